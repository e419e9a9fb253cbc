package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
)

// probeMeta carries the identity every checker needs; embedding it
// satisfies the non-Check half of the Checker interface.
type probeMeta struct {
	name     string
	critical bool
	timeout  time.Duration
}

func (p probeMeta) Name() string           { return p.name }
func (p probeMeta) IsCritical() bool       { return p.critical }
func (p probeMeta) Timeout() time.Duration { return p.timeout }

func (p probeMeta) result(start time.Time) CheckResult {
	return CheckResult{
		Component: p.name,
		Critical:  p.critical,
		Timestamp: start,
	}
}

// RedisChecker pings Redis. Session storage depends on it, so failures
// mark the service not ready.
type RedisChecker struct {
	probeMeta
	client redis.UniversalClient
	logger *zap.Logger
}

func NewRedisChecker(client redis.UniversalClient, logger *zap.Logger) *RedisChecker {
	return &RedisChecker{
		probeMeta: probeMeta{name: "redis", critical: true, timeout: 5 * time.Second},
		client:    client,
		logger:    logger,
	}
}

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	latency := time.Since(start)

	res := r.result(start)
	res.Duration = latency
	res.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
	switch {
	case err != nil:
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = "redis ping failed"
	case latency > 100*time.Millisecond:
		res.Status = StatusDegraded
		res.Message = "redis slow to respond"
	default:
		res.Status = StatusHealthy
		res.Message = "redis reachable"
	}
	return res
}

// EndpointChecker issues a GET against a collaborator's readiness URL,
// such as the vector store's.
type EndpointChecker struct {
	probeMeta
	url    string
	client *http.Client
}

// NewEndpointChecker creates a checker that treats any 2xx response as
// healthy and 5xx as unhealthy.
func NewEndpointChecker(name, url string, critical bool) *EndpointChecker {
	timeout := 5 * time.Second
	return &EndpointChecker{
		probeMeta: probeMeta{name: name, critical: critical, timeout: timeout},
		url:       url,
		client:    &http.Client{Timeout: timeout},
	}
}

func (e *EndpointChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := e.result(start)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	resp, err := e.client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Message = fmt.Sprintf("%s unreachable", e.name)
		return res
	}
	defer resp.Body.Close()

	res.Details = map[string]interface{}{
		"status_code": resp.StatusCode,
		"latency_ms":  res.Duration.Milliseconds(),
	}
	switch {
	case resp.StatusCode >= 500:
		res.Status = StatusUnhealthy
		res.Message = fmt.Sprintf("%s returning server errors", e.name)
	case resp.StatusCode >= 300:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%s responding with status %d", e.name, resp.StatusCode)
	default:
		res.Status = StatusHealthy
		res.Message = fmt.Sprintf("%s reachable", e.name)
	}
	return res
}

// BreakerChecker reports the state of a circuit breaker guarding an
// upstream service. An open breaker means recent calls have been failing.
type BreakerChecker struct {
	probeMeta
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerChecker(name string, breaker *circuitbreaker.CircuitBreaker, critical bool) *BreakerChecker {
	return &BreakerChecker{
		probeMeta: probeMeta{name: name, critical: critical, timeout: time.Second},
		breaker:   breaker,
	}
}

func (b *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := b.breaker.State()

	res := b.result(start)
	res.Duration = time.Since(start)
	res.Details = map[string]interface{}{"breaker_state": state.String()}
	switch state {
	case circuitbreaker.StateOpen:
		res.Status = StatusUnhealthy
		res.Error = "circuit breaker open"
		res.Message = fmt.Sprintf("%s calls failing, breaker open", b.name)
	case circuitbreaker.StateHalfOpen:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%s breaker half-open, probing", b.name)
	default:
		res.Status = StatusHealthy
		res.Message = fmt.Sprintf("%s breaker closed", b.name)
	}
	return res
}
