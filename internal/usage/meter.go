// Package usage attributes model token consumption to the pipeline turn
// that incurred it. The engine attaches a Meter to the turn context;
// collaborator clients report as calls complete, and the engine folds the
// totals into the session when the turn ends.
package usage

import (
	"context"
	"sync"
)

type ctxKey struct{}

// Meter accumulates token and cost totals for one turn. Safe for concurrent
// use; parallel fetchers report through the same meter.
type Meter struct {
	mu     sync.Mutex
	tokens int64
	cost   float64
}

// NewMeter returns an empty meter.
func NewMeter() *Meter { return &Meter{} }

// Add records one model call.
func (m *Meter) Add(tokens int64, cost float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tokens += tokens
	m.cost += cost
	m.mu.Unlock()
}

// Totals reports the accumulated usage.
func (m *Meter) Totals() (tokens int64, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, m.cost
}

// With attaches m to the context.
func With(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// Add records usage on the context's meter. Contexts without a meter
// swallow the report; collaborator clients call this unconditionally.
func Add(ctx context.Context, tokens int64, cost float64) {
	if m, ok := ctx.Value(ctxKey{}).(*Meter); ok {
		m.Add(tokens, cost)
	}
}
