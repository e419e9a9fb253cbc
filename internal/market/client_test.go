package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
)

func fakeFinnhub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-token", r.Header.Get("X-Finnhub-Token"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/quote":
			_, _ = w.Write([]byte(`{"c":190.5,"h":192.0,"l":188.0,"o":189.0,"pc":189.5,"t":1700000000}`))
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{"name":"Apple Inc","ticker":"AAPL","marketCapitalization":2900000,"finnhubIndustry":"Technology"}`))
		case "/stock/metric":
			assert.Equal(t, "all", r.URL.Query().Get("metric"))
			_, _ = w.Write([]byte(`{"symbol":"AAPL","metricType":"all","metric":{"peTTM":29.4,"epsTTM":6.42,"dividendYieldIndicatedAnnual":0.55,"52WeekHigh":199.6,"52WeekLow":124.2}}`))
		case "/stock/candle":
			assert.Equal(t, "D", r.URL.Query().Get("resolution"))
			assert.NotEmpty(t, r.URL.Query().Get("from"))
			_, _ = w.Write([]byte(`{"s":"ok","t":[1699900000,1699986400,1700072800],"o":[10,11,12],"h":[11,12,13],"l":[9,10,11],"c":[10.5,11.5,12.5],"v":[1000,1100,1200]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testMarketClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.MarketConfig{
		APIKey:      "secret-token",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		HistoryDays: 365,
	}, circuitbreaker.Settings{}, nil, zap.NewNop())
}

func TestSnapshotCombinesEndpoints(t *testing.T) {
	srv := fakeFinnhub(t)
	client := testMarketClient(t, srv.URL)

	snap, err := client.Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 190.5, snap.CurrentPrice, 1e-6)
	assert.InDelta(t, 2.9e12, snap.MarketCap, 1) // millions scaled to dollars
	assert.InDelta(t, 29.4, snap.PERatio, 1e-6)
	assert.InDelta(t, 6.42, snap.EPS, 1e-6)
	assert.InDelta(t, 0.55, snap.DividendYield, 1e-6)
	assert.InDelta(t, 199.6, snap.High52W, 1e-4)
	assert.InDelta(t, 124.2, snap.Low52W, 1e-4)
	assert.Equal(t, "Technology", snap.Industry)
}

func TestSnapshotUnknownTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/quote":
			_, _ = w.Write([]byte(`{"c":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{}`))
		case "/stock/metric":
			_, _ = w.Write([]byte(`{"metric":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client := testMarketClient(t, srv.URL)

	_, err := client.Snapshot(context.Background(), "ZZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data for ticker")
}

func TestSnapshotUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	client := testMarketClient(t, srv.URL)

	_, err := client.Snapshot(context.Background(), "AAPL")
	require.Error(t, err)
}

func TestHistoryReturnsCandlesOldestFirst(t *testing.T) {
	srv := fakeFinnhub(t)
	client := testMarketClient(t, srv.URL)

	candles, err := client.History(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.InDelta(t, 10.5, candles[0].Close, 1e-6)
	assert.InDelta(t, 12.5, candles[2].Close, 1e-6)
	assert.True(t, candles[0].Time.Before(candles[2].Time))
	assert.InDelta(t, 1200, candles[2].Volume, 1e-6)
}

func TestHistoryNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	}))
	defer srv.Close()
	client := testMarketClient(t, srv.URL)

	_, err := client.History(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no price history")
}
