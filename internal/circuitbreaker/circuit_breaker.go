package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
)

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings holds one breaker's thresholds. FailureThreshold consecutive
// failures open the breaker; after ResetTimeout it admits up to
// HalfOpenRequests probes, and that many consecutive successes close it again.
type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenRequests int
	OnStateChange    func(name string, from, to State)
}

// FromConfig maps the service configuration onto breaker settings.
func FromConfig(c config.CircuitBreakerConfig) Settings {
	s := Settings{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     c.ResetTimeout,
		HalfOpenRequests: c.HalfOpenRequests,
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 60 * time.Second
	}
	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = 1
	}
	return s
}

// CircuitBreaker guards one collaborator. A tripped breaker fails calls fast
// so a struggling provider degrades the pipeline instead of stalling it.
type CircuitBreaker struct {
	name     string
	settings Settings
	logger   *zap.Logger

	mu                  sync.Mutex
	state               State
	openedAt            time.Time
	consecutiveFailures int
	halfOpenInFlight    int
	halfOpenSuccesses   int
}

// New creates a breaker named for the collaborator it guards.
func New(name string, settings Settings, logger *zap.Logger) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 60 * time.Second
	}
	if settings.HalfOpenRequests <= 0 {
		settings.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		name:     name,
		settings: settings,
		logger:   logger,
		state:    StateClosed,
	}
}

// Execute runs fn when the breaker admits the call. Context errors from fn
// count as failures like any other error.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		recordRejected(cb.name)
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(false)
			panic(r)
		}
	}()

	err := fn()
	cb.afterRequest(err == nil)
	recordRequest(cb.name, cb.State(), err == nil)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked(time.Now())
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked(time.Now()) {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.settings.HalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenInFlight++
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.stateLocked(now) {
	case StateClosed:
		if success {
			cb.consecutiveFailures = 0
			return
		}
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.settings.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		if !success {
			cb.transition(StateOpen, now)
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.settings.HalfOpenRequests {
			cb.transition(StateClosed, now)
		}
	}
}

// stateLocked computes the effective state, promoting open→half-open once the
// reset timeout elapses. Caller holds cb.mu.
func (cb *CircuitBreaker) stateLocked(now time.Time) State {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.settings.ResetTimeout {
		cb.transition(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.consecutiveFailures = 0
	}

	recordStateChange(cb.name, from, to)
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
