// Package market fetches fundamental snapshots and daily price history from
// Finnhub. A snapshot combines the quote, company profile, and basic
// financials endpoints into one record per ticker.
package market

import (
	"context"
	"fmt"
	"net/http"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/ratecontrol"
	"github.com/finsight-lab/finsight/internal/tracing"
)

// Candle is one daily price bar. History returns candles oldest first.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Client wraps the Finnhub API behind the market breaker and rate limiter.
type Client struct {
	api     *finnhub.DefaultApiService
	cfg     config.MarketConfig
	limits  *ratecontrol.Registry
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient builds a Finnhub-backed market client.
func NewClient(cfg config.MarketConfig, breaker circuitbreaker.Settings, limits *ratecontrol.Registry, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 365
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = ratecontrol.NewRegistry(logger)
	}

	cb := circuitbreaker.New("market", breaker, logger)
	apiCfg := finnhub.NewConfiguration()
	apiCfg.AddDefaultHeader("X-Finnhub-Token", cfg.APIKey)
	apiCfg.HTTPClient = &http.Client{
		Transport: circuitbreaker.NewTransport(nil, cb),
		Timeout:   cfg.Timeout,
	}
	if cfg.BaseURL != "" {
		apiCfg.Servers = finnhub.ServerConfigurations{{URL: cfg.BaseURL}}
	}

	return &Client{
		api:     finnhub.NewAPIClient(apiCfg).DefaultApi,
		cfg:     cfg,
		limits:  limits,
		breaker: cb,
		logger:  logger,
	}
}

// Breaker exposes the market circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.breaker }

// Snapshot returns the fundamental snapshot for one ticker. A ticker Finnhub
// knows nothing about comes back with zeroed quote and profile; that case is
// reported as an error rather than an empty snapshot.
func (c *Client) Snapshot(ctx context.Context, ticker string) (*models.FundamentalSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "market.snapshot")
	defer span.End()
	if err := c.limits.Wait(ctx, "market"); err != nil {
		return nil, fmt.Errorf("market rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	start := time.Now()

	quote, _, err := c.api.Quote(ctx).Symbol(ticker).Execute()
	if err != nil {
		metrics.RecordCollaboratorCall("market", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("quote %s: %w", ticker, err)
	}
	profile, _, err := c.api.CompanyProfile2(ctx).Symbol(ticker).Execute()
	if err != nil {
		metrics.RecordCollaboratorCall("market", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("company profile %s: %w", ticker, err)
	}
	financials, _, err := c.api.CompanyBasicFinancials(ctx).Symbol(ticker).Metric("all").Execute()
	if err != nil {
		metrics.RecordCollaboratorCall("market", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("basic financials %s: %w", ticker, err)
	}
	metrics.RecordCollaboratorCall("market", "ok", time.Since(start).Seconds())

	metric := financials.GetMetric()
	snap := &models.FundamentalSnapshot{
		CurrentPrice:  float64(quote.GetC()),
		MarketCap:     float64(profile.GetMarketCapitalization()) * 1e6, // reported in millions
		PERatio:       metricFloat(metric, "peTTM"),
		EPS:           metricFloat(metric, "epsTTM"),
		DividendYield: metricFloat(metric, "dividendYieldIndicatedAnnual"),
		High52W:       metricFloat(metric, "52WeekHigh"),
		Low52W:        metricFloat(metric, "52WeekLow"),
		Industry:      profile.GetFinnhubIndustry(),
	}
	if snap.CurrentPrice == 0 && snap.MarketCap == 0 {
		return nil, fmt.Errorf("no data for ticker %s", ticker)
	}
	return snap, nil
}

// History returns daily candles covering the configured lookback window,
// oldest first.
func (c *Client) History(ctx context.Context, ticker string) ([]Candle, error) {
	ctx, span := tracing.StartSpan(ctx, "market.history")
	defer span.End()
	if err := c.limits.Wait(ctx, "market"); err != nil {
		return nil, fmt.Errorf("market rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	now := time.Now()
	from := now.AddDate(0, 0, -c.cfg.HistoryDays)
	start := time.Now()
	res, _, err := c.api.StockCandles(ctx).
		Symbol(ticker).
		Resolution("D").
		From(from.Unix()).
		To(now.Unix()).
		Execute()
	if err != nil {
		metrics.RecordCollaboratorCall("market", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("candles %s: %w", ticker, err)
	}
	metrics.RecordCollaboratorCall("market", "ok", time.Since(start).Seconds())

	if res.GetS() != "ok" {
		return nil, fmt.Errorf("no price history for %s", ticker)
	}

	times := res.GetT()
	opens, highs, lows, closes, vols := res.GetO(), res.GetH(), res.GetL(), res.GetC(), res.GetV()
	out := make([]Candle, 0, len(times))
	for i, ts := range times {
		cd := Candle{Time: time.Unix(ts, 0).UTC()}
		if i < len(opens) {
			cd.Open = float64(opens[i])
		}
		if i < len(highs) {
			cd.High = float64(highs[i])
		}
		if i < len(lows) {
			cd.Low = float64(lows[i])
		}
		if i < len(closes) {
			cd.Close = float64(closes[i])
		}
		if i < len(vols) {
			cd.Volume = float64(vols[i])
		}
		out = append(out, cd)
	}
	c.logger.Debug("Fetched price history",
		zap.String("ticker", ticker),
		zap.Int("candles", len(out)),
	)
	return out, nil
}

func metricFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}
