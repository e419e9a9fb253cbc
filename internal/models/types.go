package models

import (
	"encoding/json"
	"strings"
)

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single conversation message. Immutable once appended; ordering is
// significant for query resolution and answer generation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Classification is the intent classifier's fully populated output. All flags
// default to false and are set exactly once per pipeline run.
type Classification struct {
	IsFinancial      bool     `json:"is_financial"`
	Tickers          []string `json:"tickers"`
	NeedsFundamental bool     `json:"needs_fundamental"`
	NeedsTechnical   bool     `json:"needs_technical"`
	NeedsNews        bool     `json:"needs_news"`
	NeedsSecFiling   bool     `json:"needs_secfiling"`
	Intent           string   `json:"intent,omitempty"`
}

// FundamentalSnapshot is one ticker's point-in-time metrics from the
// market-data collaborator. Zero values mean the provider did not supply the
// field; the synthesizer omits them.
type FundamentalSnapshot struct {
	CurrentPrice  float64 `json:"current_price"`
	MarketCap     float64 `json:"market_cap"`
	PERatio       float64 `json:"pe_ratio"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividend_yield"`
	High52W       float64 `json:"52w_high"`
	Low52W        float64 `json:"52w_low"`
	Sector        string  `json:"sector,omitempty"`
	Industry      string  `json:"industry,omitempty"`
}

// TechnicalIndicators holds computed indicator values for one ticker.
type TechnicalIndicators struct {
	RSI14            float64 `json:"rsi_14"`
	MACD             float64 `json:"macd"`
	SMA50            float64 `json:"sma_50"`
	SMA200           float64 `json:"sma_200"`
	PriceVsSMA200Pct float64 `json:"price_vs_sma_200_pct"`
	BollingerUpper   float64 `json:"bollinger_upper"`
	BollingerLower   float64 `json:"bollinger_lower"`
}

// FundamentalEntry is either a snapshot or a per-ticker error marker, never
// both and never a partially filled snapshot.
type FundamentalEntry struct {
	Snapshot *FundamentalSnapshot `json:"snapshot,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// TechnicalEntry is either computed indicators or a per-ticker error marker.
type TechnicalEntry struct {
	Indicators *TechnicalIndicators `json:"indicators,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// MarshalJSON writes the entry as either the flat snapshot fields or the
// error marker, the shape clients receive in final payloads.
func (e FundamentalEntry) MarshalJSON() ([]byte, error) {
	if e.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Error})
	}
	if e.Snapshot != nil {
		return json.Marshal(e.Snapshot)
	}
	return []byte("{}"), nil
}

func (e *FundamentalEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*e = FundamentalEntry{}
		return nil
	}
	if msg, ok := raw["error"]; ok && len(raw) == 1 {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return err
		}
		*e = FundamentalEntry{Error: s}
		return nil
	}
	var snap FundamentalSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	*e = FundamentalEntry{Snapshot: &snap}
	return nil
}

// MarshalJSON mirrors FundamentalEntry: flat indicator fields or the error
// marker.
func (e TechnicalEntry) MarshalJSON() ([]byte, error) {
	if e.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Error})
	}
	if e.Indicators != nil {
		return json.Marshal(e.Indicators)
	}
	return []byte("{}"), nil
}

func (e *TechnicalEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*e = TechnicalEntry{}
		return nil
	}
	if msg, ok := raw["error"]; ok && len(raw) == 1 {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return err
		}
		*e = TechnicalEntry{Error: s}
		return nil
	}
	var ind TechnicalIndicators
	if err := json.Unmarshal(data, &ind); err != nil {
		return err
	}
	*e = TechnicalEntry{Indicators: &ind}
	return nil
}

// NewsItem is one deduplicated news result. URL is the canonical source link
// and the dedup key.
type NewsItem struct {
	Content string `json:"content"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Date    string `json:"date,omitempty"`
	Outlet  string `json:"outlet,omitempty"`
}

// DocPassage is one retrieved filing excerpt with its filing metadata.
type DocPassage struct {
	ID         string `json:"id,omitempty"`
	Content    string `json:"content"`
	Ticker     string `json:"company_ticker,omitempty"`
	Company    string `json:"company_name,omitempty"`
	FormType   string `json:"form_type,omitempty"`
	PeriodEnd  string `json:"period_end,omitempty"`
	Section    string `json:"section_title,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
}

// PipelineState is the single record threaded through every pipeline stage.
// Stages never write each other's fields: each Apply/Set method below installs
// exactly one stage's fully formed output, which keeps the no-partial-write
// rule enforceable at the type level.
type PipelineState struct {
	Messages []Turn `json:"messages"`

	Query            string   `json:"query"`
	Tickers          []string `json:"tickers"`
	IsFinancial      bool     `json:"is_financial"`
	NeedsFundamental bool     `json:"needs_fundamental"`
	NeedsTechnical   bool     `json:"needs_technical"`
	NeedsNews        bool     `json:"needs_news"`
	NeedsSecFiling   bool     `json:"needs_secfiling"`
	Intent           string   `json:"intent,omitempty"`

	FundamentalData map[string]FundamentalEntry `json:"fundamental_data,omitempty"`
	TechnicalData   map[string]TechnicalEntry   `json:"technical_data,omitempty"`
	NewsArticles    []NewsItem                  `json:"news_articles,omitempty"`
	RetrievedDocs   []DocPassage                `json:"retrieved_docs,omitempty"`

	Answer string `json:"answer"`
}

// NewPipelineState builds a fresh per-invocation state around the session's
// message history. Everything except Messages starts at its empty default.
func NewPipelineState(messages []Turn) *PipelineState {
	msgs := make([]Turn, len(messages))
	copy(msgs, messages)
	return &PipelineState{Messages: msgs}
}

// ApplyResolution installs the resolver's output.
func (s *PipelineState) ApplyResolution(query string) {
	s.Query = query
}

// ApplyClassification installs the classifier's output, normalizing tickers.
func (s *PipelineState) ApplyClassification(c Classification) {
	s.IsFinancial = c.IsFinancial
	s.Tickers = NormalizeTickers(c.Tickers)
	s.NeedsFundamental = c.NeedsFundamental
	s.NeedsTechnical = c.NeedsTechnical
	s.NeedsNews = c.NeedsNews
	s.NeedsSecFiling = c.NeedsSecFiling
	s.Intent = c.Intent
}

// SetFundamental installs the fundamental fetcher's complete output.
func (s *PipelineState) SetFundamental(data map[string]FundamentalEntry) {
	s.FundamentalData = data
}

// SetTechnical installs the technical fetcher's complete output.
func (s *PipelineState) SetTechnical(data map[string]TechnicalEntry) {
	s.TechnicalData = data
}

// SetNews installs the news fetcher's complete output.
func (s *PipelineState) SetNews(items []NewsItem) {
	s.NewsArticles = items
}

// SetDocs installs the document fetcher's complete output.
func (s *PipelineState) SetDocs(docs []DocPassage) {
	s.RetrievedDocs = docs
}

// SetAnswer installs the synthesizer's output.
func (s *PipelineState) SetAnswer(answer string) {
	s.Answer = answer
}

// LatestUserMessage returns the content of the most recent user turn, or ""
// when no user turn exists.
func (s *PipelineState) LatestUserMessage() string {
	return LatestUserMessage(s.Messages)
}

// LatestUserMessage returns the content of the most recent user turn in
// turns, or "" when no user turn exists.
func LatestUserMessage(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// FormatHistory renders turns as role-prefixed lines, one per turn.
func FormatHistory(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, strings.ToUpper(t.Role)+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

// NormalizeTickers uppercases, trims, and deduplicates symbols while
// preserving first-occurrence order. Index symbols keep their leading caret.
func NormalizeTickers(tickers []string) []string {
	if len(tickers) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		sym := strings.ToUpper(strings.TrimSpace(t))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MarketData groups the per-ticker evidence maps for the final payload.
type MarketData struct {
	Fundamental map[string]FundamentalEntry `json:"fundamental,omitempty"`
	Technical   map[string]TechnicalEntry   `json:"technical,omitempty"`
}

// FinalPayload is the terminal result of one pipeline run.
type FinalPayload struct {
	Answer     string     `json:"answer"`
	Tickers    []string   `json:"ticker"`
	MarketData MarketData `json:"market_data"`
}

// Payload assembles the final payload from a completed state.
func (s *PipelineState) Payload() FinalPayload {
	return FinalPayload{
		Answer:  s.Answer,
		Tickers: append([]string(nil), s.Tickers...),
		MarketData: MarketData{
			Fundamental: s.FundamentalData,
			Technical:   s.TechnicalData,
		},
	}
}
