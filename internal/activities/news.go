package activities

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/prompts"
)

// FetchNews searches for recent coverage, one query batch per ticker, or a
// single generic batch when no tickers are known. Results are deduplicated
// by article URL (first occurrence wins, insertion order preserved) and
// capped. Any collaborator failure yields an empty list for the whole fetch:
// news is supplementary and never worth failing a run over.
func (a *Activities) FetchNews(ctx context.Context, st *models.PipelineState) []models.NewsItem {
	if !st.IsFinancial || !st.NeedsNews {
		return []models.NewsItem{}
	}
	tickers := st.Tickers
	if len(tickers) == 0 {
		tickers = []string{""} // one generic pass
	}
	var collected []models.NewsItem
	for _, ticker := range tickers {
		batch, err := a.newsForTicker(ctx, st.Query, ticker)
		if err != nil {
			a.logger.Warn("News fetch failed, returning no articles",
				zap.String("ticker", ticker),
				zap.Error(err))
			metrics.RecordStageDegraded("news", "collaborator_error")
			return []models.NewsItem{}
		}
		collected = append(collected, batch...)
	}
	unique := dedupeNews(collected, newsLimit)
	a.logger.Debug("News fetched",
		zap.Int("raw", len(collected)),
		zap.Int("unique", len(unique)))
	return unique
}

func (a *Activities) newsForTicker(ctx context.Context, question, ticker string) ([]models.NewsItem, error) {
	queries, err := a.generateNewsQueries(ctx, question, ticker)
	if err != nil {
		return nil, err
	}
	var out []models.NewsItem
	for _, q := range queries {
		results, err := a.news.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

// generateNewsQueries asks the fast model for up to three search queries
// targeting recent coverage of the question.
func (a *Activities) generateNewsQueries(ctx context.Context, question, ticker string) ([]string, error) {
	if ticker == "" {
		ticker = "N/A"
	}
	user := prompts.Render(a.prompts.News.User, map[string]string{
		"question": question,
		"ticker":   ticker,
	})
	out, err := a.fast.Complete(ctx, a.prompts.News.System, user)
	if err != nil {
		return nil, err
	}
	return parseNewsQueries(out), nil
}

// parseNewsQueries splits model output into at most three usable query
// lines, dropping blanks and bullet markers.
func parseNewsQueries(raw string) []string {
	var queries []string
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimSpace(line)
		if q == "" || strings.HasPrefix(q, "•") {
			continue
		}
		queries = append(queries, q)
		if len(queries) == 3 {
			break
		}
	}
	return queries
}

// dedupeNews drops articles without a URL and repeats of an already-seen
// URL, preserving insertion order, then caps the result.
func dedupeNews(items []models.NewsItem, limit int) []models.NewsItem {
	seen := make(map[string]struct{}, len(items))
	unique := make([]models.NewsItem, 0, len(items))
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if _, dup := seen[item.URL]; dup {
			metrics.NewsDeduplicated.Inc()
			continue
		}
		seen[item.URL] = struct{}{}
		unique = append(unique, item)
	}
	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}
