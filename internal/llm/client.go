// Package llm wraps the OpenAI chat API behind a small pool of generators.
// Each generator pins (model, temperature, max tokens) so pipeline stages get
// stable sampling behavior; all generators share one HTTP client that rides
// the llm circuit breaker and outbound rate limiter.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/pricing"
	"github.com/finsight-lab/finsight/internal/ratecontrol"
	"github.com/finsight-lab/finsight/internal/tracing"
	"github.com/finsight-lab/finsight/internal/usage"
)

// Settings pins the sampling parameters of one pooled generator.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}

func (s Settings) key() string {
	return fmt.Sprintf("%s_%g_%d", s.Model, s.Temperature, s.MaxTokens)
}

// Client owns the shared API connection and the generator pool.
type Client struct {
	api     openai.Client
	cfg     config.LLMConfig
	logger  *zap.Logger
	limits  *ratecontrol.Registry
	breaker *circuitbreaker.CircuitBreaker

	mu   sync.Mutex
	pool map[string]*Generator
}

// NewClient builds the pool owner. Extra request options are passed through
// to the OpenAI client, which lets tests point it at a fake endpoint.
func NewClient(cfg config.LLMConfig, breaker circuitbreaker.Settings, limits *ratecontrol.Registry, logger *zap.Logger, opts ...option.RequestOption) *Client {
	if cfg.FastModel == "" {
		cfg.FastModel = "gpt-4o-mini"
	}
	if cfg.StrongModel == "" {
		cfg.StrongModel = "gpt-4o"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = ratecontrol.NewRegistry(logger)
	}

	cb := circuitbreaker.New("llm", breaker, logger)
	httpClient := &http.Client{
		Transport: circuitbreaker.NewTransport(nil, cb),
		Timeout:   cfg.RequestTimeout,
	}

	requestOpts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.BaseURL))
	}
	requestOpts = append(requestOpts, opts...)

	return &Client{
		api:     openai.NewClient(requestOpts...),
		cfg:     cfg,
		logger:  logger,
		limits:  limits,
		breaker: cb,
		pool:    make(map[string]*Generator),
	}
}

// Generator returns the pooled generator for the given settings, creating it
// on first use.
func (c *Client) Generator(s Settings) *Generator {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := s.key()
	if g, ok := c.pool[k]; ok {
		return g
	}
	g := &Generator{client: c, settings: s}
	c.pool[k] = g
	return g
}

// Fast returns the deterministic generator used for query resolution, intent
// classification, and news query generation.
func (c *Client) Fast() *Generator {
	return c.Generator(Settings{Model: c.cfg.FastModel, Temperature: 0})
}

// Strong returns the generator used for final answer synthesis.
func (c *Client) Strong() *Generator {
	return c.Generator(Settings{
		Model:       c.cfg.StrongModel,
		Temperature: c.cfg.Temperature,
		MaxTokens:   int64(c.cfg.MaxTokens),
	})
}

// Breaker exposes the llm circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.breaker }

// Generator issues chat completions with fixed sampling parameters.
type Generator struct {
	client   *Client
	settings Settings
}

// Settings reports the pinned parameters.
func (g *Generator) Settings() Settings { return g.settings }

// Complete sends one system+user exchange and returns the assistant text.
// An empty system prompt is omitted from the request.
func (g *Generator) Complete(ctx context.Context, system, user string) (string, error) {
	c := g.client
	ctx, span := tracing.StartSpan(ctx, "llm.complete")
	defer span.End()

	if err := c.limits.Wait(ctx, "llm"); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.settings.Model),
		Messages:    msgs,
		Temperature: openai.Float(g.settings.Temperature),
	}
	if g.settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(g.settings.MaxTokens)
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.RecordCollaboratorCall("llm", "error", time.Since(start).Seconds())
		return "", fmt.Errorf("chat completion: %w", err)
	}
	metrics.RecordCollaboratorCall("llm", "ok", time.Since(start).Seconds())

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	cost := pricing.CostForSplit(g.settings.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	metrics.RecordLLMUsage(g.settings.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)
	usage.Add(ctx, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, cost)
	c.logger.Debug("Chat completion",
		zap.String("model", g.settings.Model),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// ExtractJSON returns the outermost JSON object embedded in s, tolerating
// markdown fences and prose around it. Returns "" when no object is present.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
