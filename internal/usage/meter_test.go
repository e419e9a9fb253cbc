package usage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeterAccumulatesConcurrently(t *testing.T) {
	m := NewMeter()
	ctx := With(context.Background(), m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Add(ctx, 3, 0.5)
			}
		}()
	}
	wg.Wait()

	tokens, cost := m.Totals()
	assert.Equal(t, int64(2400), tokens)
	assert.InDelta(t, 400.0, cost, 1e-9)
}

func TestAddWithoutMeterIsNoOp(t *testing.T) {
	// Must not panic when no meter rides the context.
	Add(context.Background(), 10, 1)
}

func TestNilMeterAdd(t *testing.T) {
	var m *Meter
	m.Add(5, 1)
}
