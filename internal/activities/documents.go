package activities

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/vectordb"
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Section markers, matched against lowercased titles. High-value sections
// carry the substance of a filing; low-value ones are boilerplate.
var (
	highValueMarkers = []string{"discussion and analysis", "md&a", "risk factor", "business", "financial statement"}
	neutralMarkers   = []string{"propert", "legal proceeding"}
	lowValueMarkers  = []string{"signature", "exhibit", "control"}
)

// sectionHints is appended to the search text when the first pass surfaces
// only boilerplate.
const sectionHints = "management discussion and analysis risk factors financial statements"

// FetchDocuments retrieves filing passages relevant to the query. Retrieval
// pulls a wide candidate pool, selects a diverse subset, narrows by ticker
// and by any year mentioned in the query (never to an empty set), and
// reranks by section informativeness. If the top passage is still
// boilerplate, one hinted re-query runs and the merged, deduplicated set is
// re-ranked. Any collaborator failure yields an empty list.
func (a *Activities) FetchDocuments(ctx context.Context, st *models.PipelineState) []models.DocPassage {
	if !st.IsFinancial || !st.NeedsSecFiling || len(st.Tickers) == 0 {
		return []models.DocPassage{}
	}
	docs, err := a.retrieveDocuments(ctx, st.Query, st.Tickers)
	if err != nil {
		a.logger.Warn("Document retrieval failed, returning no passages",
			zap.Strings("tickers", st.Tickers),
			zap.Error(err))
		metrics.RecordStageDegraded("documents", "collaborator_error")
		return []models.DocPassage{}
	}
	a.logger.Debug("Documents retrieved",
		zap.Int("count", len(docs)),
		zap.Strings("tickers", st.Tickers))
	return docs
}

func (a *Activities) retrieveDocuments(ctx context.Context, query string, tickers []string) ([]models.DocPassage, error) {
	// Ticker names in the query text bias retrieval toward the right filings
	// even when payload filtering misses.
	searchText := query + " " + strings.Join(tickers, " ")
	first, err := a.searchPassages(ctx, searchText, tickers)
	if err != nil {
		return nil, err
	}
	ranked := rerankBySection(narrowByYear(narrowByTicker(first, tickers), query))

	if len(ranked) > 0 && sectionScore(ranked[0].Section) < 0 {
		metrics.DocRequeries.Inc()
		second, err := a.searchPassages(ctx, searchText+" "+sectionHints, tickers)
		if err != nil {
			return nil, err
		}
		second = narrowByYear(narrowByTicker(second, tickers), query)
		ranked = rerankBySection(mergeDocs(ranked, second))
	}
	if len(ranked) > docLimit {
		ranked = ranked[:docLimit]
	}
	return ranked, nil
}

// searchPassages embeds the text, queries the vector store for a wide pool,
// and selects a diverse subset.
func (a *Activities) searchPassages(ctx context.Context, text string, tickers []string) ([]models.DocPassage, error) {
	vector, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	tun := a.tun.Load()
	candidates, err := a.vectors.Query(ctx, vector, tun.fetchK, vectordb.TickerFilter(tickers))
	if err != nil {
		return nil, err
	}
	selected := vectordb.MaxMarginalRelevance(candidates, tun.mmrLambda, docLimit)
	out := make([]models.DocPassage, 0, len(selected))
	for _, sp := range selected {
		out = append(out, sp.Passage)
	}
	return out, nil
}

// narrowByTicker keeps only passages whose ticker metadata matches, unless
// that would discard everything.
func narrowByTicker(docs []models.DocPassage, tickers []string) []models.DocPassage {
	if len(tickers) == 0 {
		return docs
	}
	want := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		want[strings.ToUpper(t)] = struct{}{}
	}
	matched := make([]models.DocPassage, 0, len(docs))
	for _, d := range docs {
		if _, ok := want[strings.ToUpper(d.Ticker)]; ok {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return docs
	}
	return matched
}

// narrowByYear applies a 4-digit year mentioned in the query to the period
// metadata, again never narrowing to an empty set.
func narrowByYear(docs []models.DocPassage, query string) []models.DocPassage {
	year := yearPattern.FindString(query)
	if year == "" {
		return docs
	}
	matched := make([]models.DocPassage, 0, len(docs))
	for _, d := range docs {
		if strings.Contains(d.PeriodEnd, year) {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return docs
	}
	return matched
}

func sectionScore(title string) int {
	t := strings.ToLower(title)
	for _, m := range highValueMarkers {
		if strings.Contains(t, m) {
			return 3
		}
	}
	for _, m := range neutralMarkers {
		if strings.Contains(t, m) {
			return 1
		}
	}
	for _, m := range lowValueMarkers {
		if strings.Contains(t, m) {
			return -2
		}
	}
	return 0
}

// rerankBySection orders passages by descending section score, preserving
// the incoming order among ties.
func rerankBySection(docs []models.DocPassage) []models.DocPassage {
	out := make([]models.DocPassage, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return sectionScore(out[i].Section) > sectionScore(out[j].Section)
	})
	return out
}

// docIdentity prefers the explicit id, then the source file, then the
// content itself, so merged result sets deduplicate stably.
func docIdentity(d models.DocPassage) string {
	if d.ID != "" {
		return "id:" + d.ID
	}
	if d.SourceFile != "" {
		return "file:" + d.SourceFile
	}
	return "content:" + d.Content
}

func mergeDocs(first, second []models.DocPassage) []models.DocPassage {
	seen := make(map[string]struct{}, len(first)+len(second))
	merged := make([]models.DocPassage, 0, len(first)+len(second))
	for _, set := range [][]models.DocPassage{first, second} {
		for _, d := range set {
			key := docIdentity(d)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, d)
		}
	}
	return merged
}
