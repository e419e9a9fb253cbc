package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
)

// FetchTechnical computes indicator sets from daily price history, one per
// ticker. Tickers with insufficient or unusable history get an error marker
// instead of partial indicators.
func (a *Activities) FetchTechnical(ctx context.Context, st *models.PipelineState) map[string]models.TechnicalEntry {
	if !st.IsFinancial || !st.NeedsTechnical || len(st.Tickers) == 0 {
		return map[string]models.TechnicalEntry{}
	}
	out := make(map[string]models.TechnicalEntry, len(st.Tickers))
	for _, ticker := range st.Tickers {
		candles, err := a.market.History(ctx, ticker)
		if err != nil {
			a.logger.Warn("Price history fetch failed",
				zap.String("ticker", ticker),
				zap.Error(err))
			metrics.RecordStageDegraded("technical", "history_error")
			out[ticker] = models.TechnicalEntry{Error: err.Error()}
			continue
		}
		indicators, err := computeIndicators(candles)
		if err != nil {
			metrics.RecordStageDegraded("technical", "insufficient_history")
			out[ticker] = models.TechnicalEntry{Error: err.Error()}
			continue
		}
		out[ticker] = models.TechnicalEntry{Indicators: indicators}
	}
	a.logger.Debug("Technical data fetched", zap.Int("tickers", len(out)))
	return out
}
