// Package news searches Google News through the SerpAPI search endpoint and
// maps results into NewsItem records. The article link doubles as the dedup
// key downstream, so it is preserved verbatim.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/ratecontrol"
	"github.com/finsight-lab/finsight/internal/tracing"
)

const defaultBaseURL = "https://serpapi.com/search"

// Client issues news searches behind the news breaker and rate limiter.
type Client struct {
	cfg    config.NewsConfig
	httpw  *circuitbreaker.HTTPWrapper
	limits *ratecontrol.Registry
	logger *zap.Logger
}

// NewClient builds a SerpAPI-backed news client.
func NewClient(cfg config.NewsConfig, breaker circuitbreaker.Settings, limits *ratecontrol.Registry, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = ratecontrol.NewRegistry(logger)
	}
	return &Client{
		cfg:    cfg,
		httpw:  circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "news", breaker, logger),
		limits: limits,
		logger: logger,
	}
}

// Breaker exposes the news circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.httpw.Breaker() }

type searchResponse struct {
	Error       string `json:"error"`
	NewsResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		Date    string `json:"date"`
		Source  string `json:"source"`
	} `json:"news_results"`
}

// Search runs one Google News query and returns the mapped articles. An empty
// result set is not an error.
func (c *Client) Search(ctx context.Context, query string) ([]models.NewsItem, error) {
	if err := c.limits.Wait(ctx, "news"); err != nil {
		return nil, fmt.Errorf("news rate limit: %w", err)
	}

	// Span URL stays query-free; the query string carries the API key.
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, c.cfg.BaseURL)
	defer span.End()

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("tbm", "nws")
	params.Set("num", strconv.Itoa(c.cfg.PageSize))
	params.Set("gl", "us")
	params.Set("hl", "en")
	params.Set("api_key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build news request: %w", err)
	}
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.httpw.Do(req)
	if err != nil {
		metrics.RecordCollaboratorCall("news", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("news search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordCollaboratorCall("news", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("read news response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordCollaboratorCall("news", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("news search returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		metrics.RecordCollaboratorCall("news", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("decode news response: %w", err)
	}
	if decoded.Error != "" {
		metrics.RecordCollaboratorCall("news", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("news search: %s", decoded.Error)
	}
	metrics.RecordCollaboratorCall("news", "ok", time.Since(start).Seconds())

	items := make([]models.NewsItem, 0, len(decoded.NewsResults))
	for _, r := range decoded.NewsResults {
		items = append(items, models.NewsItem{
			Content: r.Snippet,
			URL:     r.Link,
			Title:   r.Title,
			Date:    r.Date,
			Outlet:  r.Source,
		})
	}
	c.logger.Debug("News search completed",
		zap.String("query", query),
		zap.Int("results", len(items)),
	)
	return items, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
