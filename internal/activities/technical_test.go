package activities

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-lab/finsight/internal/market"
	"github.com/finsight-lab/finsight/internal/models"
)

// rampCandles builds n daily candles with closes 1..n, oldest first.
func rampCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = market.Candle{
			Time:  base.AddDate(0, 0, i),
			Close: float64(i + 1),
		}
	}
	return out
}

func TestFetchTechnicalGate(t *testing.T) {
	mkt := &fakeMarket{}
	a := testActivities(t, Deps{Market: mkt})
	st := financialState("apple chart", []string{"AAPL"}, models.Classification{})

	out := a.FetchTechnical(context.Background(), st)

	assert.Empty(t, out)
	_, hist := mkt.calls()
	assert.Zero(t, hist)
}

func TestFetchTechnicalComputesIndicators(t *testing.T) {
	mkt := &fakeMarket{histories: map[string][]market.Candle{"AAPL": rampCandles(250)}}
	a := testActivities(t, Deps{Market: mkt})
	st := financialState("apple technicals", []string{"AAPL"}, models.Classification{NeedsTechnical: true})

	out := a.FetchTechnical(context.Background(), st)

	require.Len(t, out, 1)
	ind := out["AAPL"].Indicators
	require.NotNil(t, ind)

	// A strictly rising series pins the oscillator at its ceiling, and the
	// moving averages have closed-form values.
	assert.InDelta(t, 100.0, ind.RSI14, 1e-9)
	assert.InDelta(t, 225.5, ind.SMA50, 1e-9)
	assert.InDelta(t, 150.5, ind.SMA200, 1e-9)
	assert.InDelta(t, (250.0/150.5-1)*100, ind.PriceVsSMA200Pct, 1e-9)
	// EMA lag on a linear ramp converges to (span-1)/2, so the convergence
	// signal settles at 12.5-5.5.
	assert.InDelta(t, 7.0, ind.MACD, 1e-3)
	// Last 20 closes are 231..250: mean 240.5, population std sqrt(33.25).
	assert.InDelta(t, 252.03256, ind.BollingerUpper, 1e-4)
	assert.InDelta(t, 228.96744, ind.BollingerLower, 1e-4)
}

func TestFetchTechnicalShortHistory(t *testing.T) {
	mkt := &fakeMarket{histories: map[string][]market.Candle{"AAPL": rampCandles(20)}}
	a := testActivities(t, Deps{Market: mkt})
	st := financialState("apple technicals", []string{"AAPL"}, models.Classification{NeedsTechnical: true})

	out := a.FetchTechnical(context.Background(), st)

	assert.Equal(t, "Insufficient price history", out["AAPL"].Error)
	assert.Nil(t, out["AAPL"].Indicators)
}

func TestFetchTechnicalDirtyHistory(t *testing.T) {
	candles := rampCandles(250)
	for i := 0; i < 60; i++ {
		candles[i].Close = 0 // unusable rows are dropped before the clean check
	}
	mkt := &fakeMarket{histories: map[string][]market.Candle{"AAPL": candles}}
	a := testActivities(t, Deps{Market: mkt})
	st := financialState("apple technicals", []string{"AAPL"}, models.Classification{NeedsTechnical: true})

	out := a.FetchTechnical(context.Background(), st)

	assert.Equal(t, "Insufficient clean price history (<200 days)", out["AAPL"].Error)
}

func TestFetchTechnicalIsolatesTickerFailure(t *testing.T) {
	mkt := &fakeMarket{histories: map[string][]market.Candle{"AAPL": rampCandles(250)}}
	a := testActivities(t, Deps{Market: mkt})
	st := financialState("apple vs unknown", []string{"AAPL", "ZZZQ"}, models.Classification{NeedsTechnical: true})

	out := a.FetchTechnical(context.Background(), st)

	require.Len(t, out, 2)
	assert.NotNil(t, out["AAPL"].Indicators)
	assert.Equal(t, "no price history for ZZZQ", out["ZZZQ"].Error)
}

func TestComputeIndicatorsDropsBadCloses(t *testing.T) {
	candles := rampCandles(230)
	candles[10].Close = -5
	candles[11].Close = 0

	ind, err := computeIndicators(candles)

	require.NoError(t, err)
	// 228 clean closes remain; the last 50 are unaffected by the dropped rows.
	assert.InDelta(t, 205.5, ind.SMA50, 1e-9)
}
