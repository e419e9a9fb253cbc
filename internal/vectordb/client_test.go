package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewClient(config.VectorConfig{
		Host:       u.Hostname(),
		Port:       port,
		Collection: "filing_chunks",
		Timeout:    2 * time.Second,
		FetchK:     20,
	}, circuitbreaker.Settings{}, zap.NewNop())
}

func TestQueryDecodesPoints(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/filing_chunks/points/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		resp := map[string]interface{}{
			"status": "ok",
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{
						"id":    "p1",
						"score": 0.91,
						"payload": map[string]interface{}{
							"content":        "Revenue grew 8% year over year.",
							"company_ticker": "AAPL",
							"company_name":   "Apple Inc.",
							"form_type":      "10-K",
							"period_end":     "2023",
							"section_title":  "Item 7: Management's Discussion and Analysis",
							"source_file":    "AAPL_10K_2023.pdf",
						},
						"vector": []float64{0.1, 0.2},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	got, err := c.Query(context.Background(), []float32{0.1, 0.2}, 5, TickerFilter([]string{"AAPL"}))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "p1", got[0].Passage.ID)
	assert.Equal(t, "AAPL", got[0].Passage.Ticker)
	assert.Equal(t, "10-K", got[0].Passage.FormType)
	assert.InDelta(t, 0.91, got[0].Score, 1e-9)
	assert.Len(t, got[0].Vector, 2)

	// Request carried the vector, limit, and filter.
	assert.Equal(t, float64(5), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_vector"])
	require.NotNil(t, gotBody["filter"])
}

func TestQueryFallsBackToLegacySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/filing_chunks/points/query" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/collections/filing_chunks/points/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"result": []map[string]interface{}{
				{"id": 7, "score": 0.5, "payload": map[string]interface{}{"content": "x"}},
			},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	got, err := c.Query(context.Background(), []float32{0.3}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Passage.ID)
}

func TestTickerFilter(t *testing.T) {
	assert.Nil(t, TickerFilter(nil))

	single := TickerFilter([]string{"AAPL"})
	must := single["must"].([]map[string]interface{})
	require.Len(t, must, 1)
	assert.Equal(t, map[string]interface{}{"value": "AAPL"}, must[0]["match"])

	multi := TickerFilter([]string{"AAPL", "MSFT"})
	must = multi["must"].([]map[string]interface{})
	assert.Equal(t, map[string]interface{}{"any": []string{"AAPL", "MSFT"}}, must[0]["match"])
}

func TestMaxMarginalRelevancePrefersDiversity(t *testing.T) {
	// Two near-duplicate high scorers and one distinct candidate.
	candidates := []ScoredPassage{
		{Score: 0.95, Vector: []float32{1, 0}},
		{Score: 0.94, Vector: []float32{0.999, 0.01}},
		{Score: 0.80, Vector: []float32{0, 1}},
	}
	candidates[0].Passage.ID = "a"
	candidates[1].Passage.ID = "b"
	candidates[2].Passage.ID = "c"

	got := MaxMarginalRelevance(candidates, 0.5, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Passage.ID)
	assert.Equal(t, "c", got[1].Passage.ID, "near-duplicate should lose to the distinct passage")
}

func TestMaxMarginalRelevanceWithoutVectors(t *testing.T) {
	candidates := []ScoredPassage{
		{Score: 0.9},
		{Score: 0.8},
		{Score: 0.7},
	}
	got := MaxMarginalRelevance(candidates, 0.5, 2)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.InDelta(t, 0.8, got[1].Score, 1e-9)
}

func TestMaxMarginalRelevanceSmallPool(t *testing.T) {
	candidates := []ScoredPassage{{Score: 0.9}}
	got := MaxMarginalRelevance(candidates, 0.5, 8)
	assert.Len(t, got, 1)

	assert.Nil(t, MaxMarginalRelevance(nil, 0.5, 8))
}
