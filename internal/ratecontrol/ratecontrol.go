package ratecontrol

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finsight-lab/finsight/internal/config"
)

// Registry holds one token-bucket limiter per outbound collaborator. Market,
// news, and LLM providers all enforce their own quotas; throttling locally
// keeps a burst of per-ticker fetches from burning through them.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry builds an empty registry; collaborators without a configured
// limit pass through unthrottled.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// FromConfig builds a registry with the service's per-provider limits.
func FromConfig(cfg config.RateLimitsConfig, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Configure("llm", cfg.LLM)
	r.Configure("market", cfg.Market)
	r.Configure("news", cfg.News)
	return r
}

// Configure installs or replaces the limiter for name. A non-positive RPS
// removes the limit.
func (r *Registry) Configure(name string, cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.RPS <= 0 {
		delete(r.limiters, name)
		return
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	r.limiters[name] = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	r.logger.Debug("Rate limit configured",
		zap.String("provider", name),
		zap.Float64("rps", cfg.RPS),
		zap.Int("burst", burst),
	)
}

// Wait blocks until the named provider admits a call or ctx is done.
func (r *Registry) Wait(ctx context.Context, name string) error {
	r.mu.RLock()
	lim := r.limiters[name]
	r.mu.RUnlock()

	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
