// Package vectordb is a minimal Qdrant HTTP client for filing-chunk
// retrieval. Searches fetch candidate vectors alongside payloads so callers
// can apply diversity re-ranking without a second round trip.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/tracing"
)

// ScoredPassage pairs a filing passage with its similarity score and,
// when available, the stored vector used for diversity re-ranking.
type ScoredPassage struct {
	Passage models.DocPassage
	Score   float64
	Vector  []float32
}

// Client is a minimal Qdrant HTTP client.
type Client struct {
	cfg   config.VectorConfig
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a client for the configured Qdrant instance.
func NewClient(cfg config.VectorConfig, breaker circuitbreaker.Settings, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		base:  cfg.BaseURL(),
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", breaker, logger),
		log:   logger,
	}
}

// Breaker exposes the underlying circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.httpw.Breaker()
}

// Collection returns the configured collection name.
func (c *Client) Collection() string {
	return c.cfg.Collection
}

// Wire shapes for the two generations of the Qdrant search API.
type qdrantQueryRequest struct {
	Query       []float32              `json:"query"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	WithVector  bool                   `json:"with_vector,omitempty"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
	Vector  []float64              `json:"vector,omitempty"`
}

// /points/search answers with a flat result list.
type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// /points/query nests the list one level deeper.
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query runs a similarity search against the configured collection and
// returns up to limit scored passages.
func (c *Client) Query(ctx context.Context, vector []float32, limit int, filter map[string]interface{}) ([]ScoredPassage, error) {
	if c == nil {
		return nil, fmt.Errorf("vectordb: client not initialized")
	}
	if limit <= 0 {
		limit = c.cfg.FetchK
	}

	start := time.Now()
	points, err := c.fetchPoints(ctx, vector, limit, filter)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordVectorSearch(c.cfg.Collection, outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return toPassages(points), nil
}

// fetchPoints prefers the modern /points/query endpoint and falls back to
// the flat /points/search API for older Qdrant servers.
func (c *Client) fetchPoints(ctx context.Context, vector []float32, limit int, filter map[string]interface{}) ([]qdrantPoint, error) {
	modernURL := c.endpoint("points/query")
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", modernURL)
	defer span.End()

	resp, err := c.post(ctx, modernURL, qdrantQueryRequest{
		Query:       vector,
		Limit:       limit,
		WithPayload: true,
		WithVector:  true,
		Filter:      filter,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var nested qdrantQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&nested); err != nil {
			return nil, err
		}
		return nested.Result.Points, nil
	}
	return c.legacySearch(ctx, vector, limit, filter)
}

func (c *Client) legacySearch(ctx context.Context, vector []float32, limit int, filter map[string]interface{}) ([]qdrantPoint, error) {
	payload := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter != nil {
		payload["filter"] = filter
	}
	resp, err := c.post(ctx, c.endpoint("points/search"), payload)
	if err != nil {
		return nil, fmt.Errorf("qdrant search fallback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant returned status %d", resp.StatusCode)
	}
	var flat qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&flat); err != nil {
		return nil, err
	}
	return flat.Result, nil
}

func (c *Client) endpoint(suffix string) string {
	return fmt.Sprintf("%s/collections/%s/%s", c.base, c.cfg.Collection, suffix)
}

// post sends a JSON payload through the breaker-wrapped client with trace
// headers attached.
func (c *Client) post(ctx context.Context, url string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

// TickerFilter builds a Qdrant payload filter over company_ticker metadata.
// A single ticker uses exact match; multiple tickers use set membership.
// Returns nil when tickers is empty.
func TickerFilter(tickers []string) map[string]interface{} {
	if len(tickers) == 0 {
		return nil
	}
	var match map[string]interface{}
	if len(tickers) == 1 {
		match = map[string]interface{}{"value": tickers[0]}
	} else {
		match = map[string]interface{}{"any": tickers}
	}
	return map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "company_ticker", "match": match},
		},
	}
}

func toPassages(points []qdrantPoint) []ScoredPassage {
	out := make([]ScoredPassage, 0, len(points))
	for _, p := range points {
		passage := models.DocPassage{
			Content:    payloadString(p.Payload, "content"),
			Ticker:     payloadString(p.Payload, "company_ticker"),
			Company:    payloadString(p.Payload, "company_name"),
			FormType:   payloadString(p.Payload, "form_type"),
			PeriodEnd:  payloadString(p.Payload, "period_end"),
			Section:    payloadString(p.Payload, "section_title"),
			SourceFile: payloadString(p.Payload, "source_file"),
		}
		if p.ID != nil {
			passage.ID = fmt.Sprintf("%v", p.ID)
		}
		sp := ScoredPassage{Passage: passage, Score: p.Score}
		if len(p.Vector) > 0 {
			v := make([]float32, len(p.Vector))
			for i, f := range p.Vector {
				v[i] = float32(f)
			}
			sp.Vector = v
		}
		out = append(out, sp)
	}
	return out
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
