// Package health tracks the availability of the service's collaborators
// and exposes the results for readiness and liveness probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus represents the result of a health check.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its name rather than a bare integer.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *CheckStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	case "unhealthy":
		*s = StatusUnhealthy
	default:
		*s = StatusUnknown
	}
	return nil
}

// CheckResult contains the result of a single health check.
type CheckResult struct {
	Component string                 `json:"component"`
	Status    CheckStatus            `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Critical  bool                   `json:"critical"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// Checker is one probe against a collaborator. Critical checks gate
// readiness; non-critical ones only degrade the reported status.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsCritical() bool
	Timeout() time.Duration
}

// OverallHealth represents the overall service health.
type OverallHealth struct {
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Degraded  bool          `json:"degraded"`
	Ready     bool          `json:"ready"`
	Live      bool          `json:"live"`
}

// DetailedHealth provides per-component health information.
type DetailedHealth struct {
	Overall    OverallHealth          `json:"overall"`
	Components map[string]CheckResult `json:"components"`
	Summary    Summary                `json:"summary"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Summary provides summary statistics.
type Summary struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Degraded    int `json:"degraded"`
	Unhealthy   int `json:"unhealthy"`
	Critical    int `json:"critical"`
	NonCritical int `json:"non_critical"`
}

// tally extends Summary with the failure split the overall verdict needs.
type tally struct {
	Summary
	criticalDown int
	optionalDown int
}

func summarize(results []CheckResult) tally {
	t := tally{Summary: Summary{Total: len(results)}}
	for _, res := range results {
		switch res.Status {
		case StatusHealthy:
			t.Healthy++
		case StatusDegraded:
			t.Degraded++
		case StatusUnhealthy:
			t.Unhealthy++
			if res.Critical {
				t.criticalDown++
			} else {
				t.optionalDown++
			}
		}
		if res.Critical {
			t.Critical++
		} else {
			t.NonCritical++
		}
	}
	return t
}

// overall maps the tally to a verdict. A failing critical dependency makes
// the service not ready but leaves it live; anything less only degrades.
func (t tally) overall() OverallHealth {
	switch {
	case t.Total == 0:
		return OverallHealth{Status: StatusUnknown, Message: "no health checks registered"}
	case t.criticalDown > 0:
		return OverallHealth{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("%d critical dependencies down", t.criticalDown),
			Live:    true,
		}
	case t.Degraded > 0 || t.optionalDown > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d of %d checks degraded or down", t.Degraded+t.optionalDown, t.Total),
			Degraded: true,
			Ready:    true,
			Live:     true,
		}
	default:
		return OverallHealth{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("all %d checks passing", t.Total),
			Ready:   true,
			Live:    true,
		}
	}
}

// Manager runs registered checkers and aggregates their results.
type Manager struct {
	mu       sync.Mutex
	checkers []Checker
	cancel   context.CancelFunc
	interval time.Duration
	logger   *zap.Logger
}

// NewManager creates a health manager that re-checks every 30s once started.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{interval: 30 * time.Second, logger: logger}
}

// RegisterChecker adds a probe. Names must be unique.
func (m *Manager) RegisterChecker(c Checker) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checkers {
		if existing.Name() == name {
			return fmt.Errorf("checker %s already registered", name)
		}
	}
	m.checkers = append(m.checkers, c)
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
	)
	return nil
}

func (m *Manager) snapshot() []Checker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Checker(nil), m.checkers...)
}

// GetDetailedHealth runs every registered check concurrently and returns
// the per-component results with an aggregate verdict.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	checkers := m.snapshot()
	results := make([]CheckResult, len(checkers))

	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	components := make(map[string]CheckResult, len(results))
	for _, res := range results {
		components[res.Component] = res
	}
	t := summarize(results)
	return DetailedHealth{
		Overall:    t.overall(),
		Components: components,
		Summary:    t.Summary,
		Timestamp:  time.Now(),
	}
}

// GetOverallHealth returns just the aggregate verdict.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	overall := m.GetDetailedHealth(ctx).Overall
	overall.Timestamp = start
	overall.Duration = time.Since(start)
	return overall
}

// IsReady reports whether the service should receive traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive reports whether the process should keep running.
func (m *Manager) IsLive(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Live
}

func (m *Manager) runCheck(ctx context.Context, c Checker) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	res := c.Check(cctx)
	res.Component = c.Name()
	res.Critical = c.IsCritical()
	res.Timestamp = start
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res
}

// Start launches the background re-check loop. The loop ends when ctx is
// canceled or Stop is called; starting twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.loop(loopCtx)

	m.logger.Info("Health manager started",
		zap.Duration("interval", m.interval),
		zap.Int("checkers", len(m.checkers)),
	)
	return nil
}

// Stop halts background checking.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil
	m.logger.Info("Health manager stopped")
	return nil
}

// loop re-runs the checks on a timer and logs status transitions, so a
// dependency going down shows up in the logs before anyone hits a probe.
func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last := StatusUnknown
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(context.Background(), m.interval)
			overall := m.GetDetailedHealth(runCtx).Overall
			cancel()
			if overall.Status != last {
				m.logger.Info("Health status changed",
					zap.String("from", last.String()),
					zap.String("to", overall.Status.String()),
					zap.String("detail", overall.Message),
				)
				last = overall.Status
			}
		}
	}
}
