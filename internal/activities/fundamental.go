package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
)

// FetchFundamental gathers one metrics snapshot per ticker. The whole fetch
// no-ops when the query is not financial, the flag is unset, or no tickers
// are known. A failing ticker gets an error marker; it never blanks the
// other tickers' data.
func (a *Activities) FetchFundamental(ctx context.Context, st *models.PipelineState) map[string]models.FundamentalEntry {
	if !st.IsFinancial || !st.NeedsFundamental || len(st.Tickers) == 0 {
		return map[string]models.FundamentalEntry{}
	}
	out := make(map[string]models.FundamentalEntry, len(st.Tickers))
	for _, ticker := range st.Tickers {
		snap, err := a.market.Snapshot(ctx, ticker)
		if err != nil {
			a.logger.Warn("Fundamental snapshot failed",
				zap.String("ticker", ticker),
				zap.Error(err))
			metrics.RecordStageDegraded("fundamental", "ticker_error")
			out[ticker] = models.FundamentalEntry{Error: err.Error()}
			continue
		}
		out[ticker] = models.FundamentalEntry{Snapshot: snap}
	}
	a.logger.Debug("Fundamental data fetched", zap.Int("tickers", len(out)))
	return out
}
