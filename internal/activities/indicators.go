package activities

import (
	"errors"
	"math"

	"github.com/finsight-lab/finsight/internal/market"
	"github.com/finsight-lab/finsight/internal/models"
)

// minHistoryRows is the raw-history floor below which indicators are not
// attempted; minCleanRows is what the 200-day averages require after
// dropping unusable closes.
const (
	minHistoryRows = 30
	minCleanRows   = 200
)

var (
	errShortHistory = errors.New("Insufficient price history")
	errDirtyHistory = errors.New("Insufficient clean price history (<200 days)")
)

// computeIndicators derives the indicator set from daily candles, oldest
// first. Rows with a missing or non-positive close are dropped before the
// clean-history check.
func computeIndicators(candles []market.Candle) (*models.TechnicalIndicators, error) {
	if len(candles) < minHistoryRows {
		return nil, errShortHistory
	}
	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		if math.IsNaN(c.Close) || c.Close <= 0 {
			continue
		}
		closes = append(closes, c.Close)
	}
	if len(closes) < minCleanRows {
		return nil, errDirtyHistory
	}

	current := closes[len(closes)-1]
	sma200 := simpleMovingAverage(closes, 200)
	upper, lower := bollingerBands(closes, 20, 2)
	indicators := &models.TechnicalIndicators{
		RSI14:          relativeStrengthIndex(closes, 14),
		MACD:           exponentialMovingAverage(closes, 12) - exponentialMovingAverage(closes, 26),
		SMA50:          simpleMovingAverage(closes, 50),
		SMA200:         sma200,
		BollingerUpper: upper,
		BollingerLower: lower,
	}
	if sma200 != 0 {
		indicators.PriceVsSMA200Pct = (current/sma200 - 1) * 100
	}
	return indicators, nil
}

func simpleMovingAverage(series []float64, window int) float64 {
	tail := series[len(series)-window:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	return sum / float64(window)
}

// exponentialMovingAverage seeds with the first value and applies recursive
// smoothing with alpha = 2/(span+1).
func exponentialMovingAverage(series []float64, span int) float64 {
	alpha := 2.0 / float64(span+1)
	ema := series[0]
	for _, v := range series[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// relativeStrengthIndex uses Wilder's smoothing (alpha = 1/window) over the
// gain and loss series. A series with no losses pins the oscillator at 100.
func relativeStrengthIndex(series []float64, window int) float64 {
	alpha := 1.0 / float64(window)
	var avgGain, avgLoss float64
	if first := series[1] - series[0]; first > 0 {
		avgGain = first
	} else {
		avgLoss = -first
	}
	for i := 2; i < len(series); i++ {
		delta := series[i] - series[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = alpha*gain + (1-alpha)*avgGain
		avgLoss = alpha*loss + (1-alpha)*avgLoss
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// bollingerBands returns the window-period moving average shifted by dev
// population standard deviations.
func bollingerBands(series []float64, window int, dev float64) (upper, lower float64) {
	tail := series[len(series)-window:]
	mean := simpleMovingAverage(series, window)
	var variance float64
	for _, v := range tail {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(window))
	return mean + dev*std, mean - dev*std
}
