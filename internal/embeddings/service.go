// Package embeddings turns query text into vectors for semantic retrieval.
// Vectors are fetched from the OpenAI embeddings API and cached in a small
// in-process LRU keyed by (model, text).
package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/pricing"
	"github.com/finsight-lab/finsight/internal/tracing"
	"github.com/finsight-lab/finsight/internal/usage"
)

// lruTTL bounds how long the in-process tier serves a vector before
// consulting the shared tier or the API again.
const lruTTL = 30 * time.Minute

// Service generates embeddings behind a two-tier cache: an in-process LRU in
// front of an optional shared Redis tier.
type Service struct {
	client openai.Client
	cfg    config.EmbeddingsConfig
	lru    *LocalLRU
	shared SharedCache
	logger *zap.Logger
}

// NewService builds an embedding service. A nil shared cache disables the
// second tier. Request options are passed through to the OpenAI client (API
// key, base URL overrides for tests).
func NewService(cfg config.EmbeddingsConfig, shared SharedCache, logger *zap.Logger, opts ...option.RequestOption) *Service {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		lru:    NewLocalLRU(cfg.CacheSize),
		shared: shared,
		logger: logger,
	}
}

// Model reports the embedding model in use.
func (s *Service) Model() string { return s.cfg.Model }

// Embed returns the embedding vector for text, serving repeats from cache.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embeddings service not initialized")
	}
	if strings.TrimSpace(text) == "" {
		metrics.EmbeddingRequests.WithLabelValues(s.cfg.Model, "empty").Inc()
		return nil, fmt.Errorf("cannot embed empty text")
	}

	key := MakeKey(s.cfg.Model, text)
	if vec, ok := s.lru.Get(key); ok {
		metrics.EmbeddingRequests.WithLabelValues(s.cfg.Model, "lru_hit").Inc()
		return vec, nil
	}
	if s.shared != nil {
		if vec, ok := s.shared.Get(ctx, key); ok {
			s.lru.Set(key, vec, lruTTL)
			metrics.EmbeddingRequests.WithLabelValues(s.cfg.Model, "cache_hit").Inc()
			return vec, nil
		}
	}

	ctx, span := tracing.StartSpan(ctx, "embeddings.embed")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.cfg.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues(s.cfg.Model, "error").Inc()
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.EmbeddingRequests.WithLabelValues(s.cfg.Model, "empty").Inc()
		return nil, fmt.Errorf("embedding response contained no vectors")
	}

	vec := toFloat32(resp.Data[0].Embedding)
	s.lru.Set(key, vec, lruTTL)
	if s.shared != nil {
		s.shared.Set(ctx, key, vec, s.cfg.CacheTTL)
	}
	metrics.EmbeddingRequests.WithLabelValues(s.cfg.Model, "ok").Inc()
	cost := pricing.CostForSplit(s.cfg.Model, resp.Usage.PromptTokens, 0)
	metrics.RecordLLMUsage(s.cfg.Model, resp.Usage.PromptTokens, 0, cost)
	usage.Add(ctx, resp.Usage.PromptTokens, cost)
	s.logger.Debug("Generated embedding",
		zap.String("model", s.cfg.Model),
		zap.Int("dimensions", len(vec)),
	)
	return vec, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
