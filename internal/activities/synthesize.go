package activities

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/prompts"
)

// Excerpt bounds for prompt context blocks.
const (
	newsExcerptLen = 500
	docExcerptLen  = 800
)

// Synthesize renders the collected evidence into one prompt and asks the
// strong model for the final answer. This is the only stage whose
// collaborator failure surfaces to the user, and it does so as an
// error-describing answer string rather than a raised error: the pipeline
// always terminates with some answer.
func (a *Activities) Synthesize(ctx context.Context, st *models.PipelineState) string {
	marketContext := formatMarketContext(st)
	newsContext := formatNewsContext(st.NewsArticles)
	docContext := formatDocContext(st.RetrievedDocs)

	history := ""
	if len(st.Messages) > 1 {
		history = models.FormatHistory(st.Messages[:len(st.Messages)-1])
	}
	if history == "" {
		history = "None"
	}

	user := prompts.Render(a.prompts.Synthesizer.User, map[string]string{
		"history":   history,
		"question":  st.Query,
		"documents": docContext,
		"market":    strings.TrimSpace(marketContext),
		"news":      strings.TrimSpace(newsContext),
	})
	answer, err := a.strong.Complete(ctx, a.prompts.Synthesizer.System, user)
	if err != nil {
		a.logger.Error("Answer generation failed", zap.Error(err))
		metrics.RecordStageDegraded("synthesize", "llm_error")
		return "An error occurred: " + err.Error()
	}
	return answer
}

// formatMarketContext emits one fundamental and one technical block per
// ticker, in state ticker order. Tickers whose entry carries an error
// marker are omitted from the context entirely.
func formatMarketContext(st *models.PipelineState) string {
	var parts []string
	for _, ticker := range st.Tickers {
		if entry, ok := st.FundamentalData[ticker]; ok && entry.Error == "" && entry.Snapshot != nil {
			parts = append(parts, formatFundamental(ticker, entry.Snapshot))
		}
		if entry, ok := st.TechnicalData[ticker]; ok && entry.Error == "" && entry.Indicators != nil {
			parts = append(parts, formatTechnical(ticker, entry.Indicators))
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatFundamental(ticker string, snap *models.FundamentalSnapshot) string {
	marketCap := "N/A"
	if snap.MarketCap > 0 {
		marketCap = "$" + groupThousands(snap.MarketCap)
	}
	lines := []string{
		fmt.Sprintf("📊 FUNDAMENTAL ANALYSIS for %s (Retrieved from Finnhub):", ticker),
		"• Price: $" + trimFloat(snap.CurrentPrice),
		"• Market Cap: " + marketCap,
		"• P/E Ratio: " + trimFloat(snap.PERatio),
		"• EPS: $" + trimFloat(snap.EPS),
		fmt.Sprintf("• 52W Range: $%s – $%s", trimFloat(snap.Low52W), trimFloat(snap.High52W)),
	}
	return strings.Join(lines, "\n")
}

func formatTechnical(ticker string, ind *models.TechnicalIndicators) string {
	lines := []string{
		fmt.Sprintf("📈 TECHNICAL ANALYSIS for %s (Retrieved from Finnhub):", ticker),
		fmt.Sprintf("• RSI 14: %.2f", ind.RSI14),
		fmt.Sprintf("• MACD: %.2f", ind.MACD),
		fmt.Sprintf("• SMA 50: %.2f", ind.SMA50),
		fmt.Sprintf("• SMA 200: %.2f", ind.SMA200),
		fmt.Sprintf("• PRICE VS SMA 200 PCT: %.2f", ind.PriceVsSMA200Pct),
		fmt.Sprintf("• BOLLINGER UPPER: %.2f", ind.BollingerUpper),
		fmt.Sprintf("• BOLLINGER LOWER: %.2f", ind.BollingerLower),
	}
	return strings.Join(lines, "\n")
}

func formatNewsContext(articles []models.NewsItem) string {
	if len(articles) == 0 {
		return ""
	}
	snippets := make([]string, 0, len(articles))
	for _, art := range articles {
		source := art.URL
		if source == "" {
			source = "News"
		}
		date := art.Date
		if date == "" {
			date = "Recent"
		}
		snippets = append(snippets, fmt.Sprintf("[%s - %s]: %s...", source, date, excerpt(art.Content, newsExcerptLen)))
	}
	return "📰 RECENT NEWS:\n" + strings.Join(snippets, "\n\n")
}

func formatDocContext(docs []models.DocPassage) string {
	entries := make([]string, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, fmt.Sprintf("[%s]: %s...", docSourceLabel(d), excerpt(d.Content, docExcerptLen)))
	}
	return strings.Join(entries, "\n\n")
}

// docSourceLabel renders filing metadata as
// "Company (TICKER) FORM (Period: DATE) - Section" with neutral fallbacks
// for missing fields.
func docSourceLabel(d models.DocPassage) string {
	ticker := d.Ticker
	if ticker == "" {
		ticker = "Unknown"
	}
	company := d.Company
	if company == "" {
		company = ticker
	}
	form := d.FormType
	if form == "" {
		form = "Filing"
	}
	period := d.PeriodEnd
	if period == "" {
		period = "N/A"
	}
	section := d.Section
	if section == "" {
		section = "Document"
	}
	return fmt.Sprintf("%s (%s) %s (Period: %s) - %s", company, ticker, form, period, section)
}

// excerpt bounds s to at most n characters without splitting a rune.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// trimFloat renders v with the fewest digits that round-trip.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// groupThousands renders v with comma-separated thousands and no decimals.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(s[i])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
