package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/llm"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/prompts"
)

// errUnparseable marks a model response that could not be decoded into a
// classification. Other errors from the model strategy are transport or
// timeout faults.
var errUnparseable = errors.New("unparseable classifier response")

// tickerPattern matches 1-5 letter uppercase tokens, the shape of US equity
// and ETF symbols.
var tickerPattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)

// fallbackStopwords are uppercase tokens the regex fallback must never treat
// as tickers.
var fallbackStopwords = map[string]struct{}{
	"I": {}, "A": {}, "AN": {}, "THE": {}, "IS": {}, "AND": {}, "OR": {},
	"IN": {}, "ON": {}, "TO": {}, "FOR": {}, "OF": {}, "ETF": {}, "USD": {},
}

// classifierStrategy is one classification attempt. A nil error means the
// result is authoritative; an error hands the query to the next strategy.
type classifierStrategy struct {
	name string
	run  func(ctx context.Context, query string) (models.Classification, error)
}

// strategies returns the ordered classification attempts. The terminal
// pattern strategy is total, so the chain always yields a populated flag set.
func (a *Activities) classifierStrategies() []classifierStrategy {
	return []classifierStrategy{
		{name: "model", run: a.classifyByModel},
		{name: "pattern", run: a.classifyByPattern},
	}
}

// Classify determines topical relevance, ticker symbols, and data-need flags
// for a resolved query. Strategies run in order until one succeeds; the model
// strategy is bounded by a hard timeout and any fault there degrades to the
// regex pattern strategy, which cannot fail.
func (a *Activities) Classify(ctx context.Context, query string) models.Classification {
	if strings.TrimSpace(query) == "" {
		return models.Classification{Intent: "general"}
	}

	for _, s := range a.classifierStrategies() {
		c, err := s.run(ctx, query)
		if err != nil {
			a.logger.Warn("Classifier strategy failed, falling back",
				zap.String("strategy", s.name),
				zap.Error(err))
			metrics.ClassifierFallbacks.Inc()
			metrics.RecordStageDegraded("classify", degradeReason(err))
			continue
		}
		a.logger.Debug("Classified query",
			zap.String("strategy", s.name),
			zap.Bool("is_financial", c.IsFinancial),
			zap.Strings("tickers", c.Tickers),
			zap.String("intent", c.Intent))
		return c
	}
	// Unreachable: the pattern strategy never returns an error.
	return models.Classification{Intent: "general"}
}

// classifyByModel asks the structured-extraction model for a flat JSON
// classification under the configured timeout.
func (a *Activities) classifyByModel(ctx context.Context, query string) (models.Classification, error) {
	cctx, cancel := context.WithTimeout(ctx, a.tun.Load().classifyTimeout)
	defer cancel()

	user := prompts.Render(a.prompts.Classifier.User, map[string]string{"query": query})
	out, err := a.fast.Complete(cctx, a.prompts.Classifier.System, user)
	if err != nil {
		return models.Classification{}, err
	}
	c, ok := parseClassification(out)
	if !ok {
		return models.Classification{}, fmt.Errorf("%w: %s", errUnparseable, logSnippet(out))
	}
	return c, nil
}

// classifyByPattern is the terminal strategy; it never fails.
func (a *Activities) classifyByPattern(_ context.Context, query string) (models.Classification, error) {
	return fallbackClassify(query), nil
}

func degradeReason(err error) string {
	if errors.Is(err, errUnparseable) {
		return "malformed_response"
	}
	return "llm_error"
}

// parseClassification decodes the model's JSON response. The ticker field is
// decoded tolerantly since models return null, a bare string, or an array.
func parseClassification(raw string) (models.Classification, bool) {
	blob := llm.ExtractJSON(raw)
	if blob == "" {
		return models.Classification{}, false
	}
	var decoded struct {
		IsFinancial      bool            `json:"is_financial"`
		Ticker           json.RawMessage `json:"ticker"`
		NeedsFundamental bool            `json:"needs_fundamental"`
		NeedsTechnical   bool            `json:"needs_technical"`
		NeedsNews        bool            `json:"needs_news"`
		NeedsSecFiling   bool            `json:"needs_secfiling"`
		Intent           string          `json:"intent"`
	}
	if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
		return models.Classification{}, false
	}
	c := models.Classification{
		IsFinancial:      decoded.IsFinancial,
		Tickers:          decodeTickers(decoded.Ticker),
		NeedsFundamental: decoded.NeedsFundamental,
		NeedsTechnical:   decoded.NeedsTechnical,
		NeedsNews:        decoded.NeedsNews,
		NeedsSecFiling:   decoded.NeedsSecFiling,
		Intent:           decoded.Intent,
	}
	if c.Intent == "" {
		c.Intent = "general"
	}
	return c, true
}

func decodeTickers(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, t := range list {
			if s := strings.ToUpper(strings.TrimSpace(t)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if s := strings.ToUpper(strings.TrimSpace(single)); s != "" {
			return []string{s}
		}
	}
	return nil
}

// fallbackClassify pattern-matches candidate tickers straight out of the
// query. The query is financial iff at least one candidate survives the
// stopword filter; only the literal news and filing cues set need flags.
func fallbackClassify(query string) models.Classification {
	matches := tickerPattern.FindAllString(strings.ToUpper(query), -1)
	tickers := make([]string, 0, len(matches))
	for _, t := range matches {
		if len(t) < 2 {
			continue
		}
		if _, stop := fallbackStopwords[t]; stop {
			continue
		}
		tickers = append(tickers, t)
	}
	lower := strings.ToLower(query)
	return models.Classification{
		IsFinancial:    len(tickers) > 0,
		Tickers:        tickers,
		NeedsNews:      strings.Contains(lower, "news") || strings.Contains(lower, "headline"),
		NeedsSecFiling: strings.Contains(lower, "sec") || strings.Contains(lower, "10-"),
		Intent:         "general",
	}
}

func logSnippet(s string) string {
	const max = 160
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
