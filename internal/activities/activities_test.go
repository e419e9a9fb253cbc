package activities

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/market"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/prompts"
	"github.com/finsight-lab/finsight/internal/vectordb"
)

type generatorCall struct {
	system string
	user   string
}

// fakeGenerator answers Complete via fn, recording every call. A nil fn
// returns an empty string.
type fakeGenerator struct {
	mu    sync.Mutex
	fn    func(system, user string) (string, error)
	calls []generatorCall
}

func (g *fakeGenerator) Complete(_ context.Context, system, user string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, generatorCall{system: system, user: user})
	fn := g.fn
	g.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(system, user)
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) lastCall() generatorCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return generatorCall{}
	}
	return g.calls[len(g.calls)-1]
}

func reply(text string) func(string, string) (string, error) {
	return func(string, string) (string, error) { return text, nil }
}

func fail(err error) func(string, string) (string, error) {
	return func(string, string) (string, error) { return "", err }
}

type fakeMarket struct {
	mu        sync.Mutex
	snapshots map[string]*models.FundamentalSnapshot
	histories map[string][]market.Candle
	snapErr   map[string]error
	histErr   map[string]error
	snapCalls int
	histCalls int
}

func (m *fakeMarket) Snapshot(_ context.Context, ticker string) (*models.FundamentalSnapshot, error) {
	m.mu.Lock()
	m.snapCalls++
	m.mu.Unlock()
	if err := m.snapErr[ticker]; err != nil {
		return nil, err
	}
	if s, ok := m.snapshots[ticker]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no data for ticker %s", ticker)
}

func (m *fakeMarket) History(_ context.Context, ticker string) ([]market.Candle, error) {
	m.mu.Lock()
	m.histCalls++
	m.mu.Unlock()
	if err := m.histErr[ticker]; err != nil {
		return nil, err
	}
	if h, ok := m.histories[ticker]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no price history for %s", ticker)
}

func (m *fakeMarket) calls() (snap, hist int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapCalls, m.histCalls
}

// fakeNews returns canned items for every query and records the queries.
type fakeNews struct {
	mu      sync.Mutex
	byQuery map[string][]models.NewsItem
	items   []models.NewsItem
	err     error
	queries []string
}

func (n *fakeNews) Search(_ context.Context, query string) ([]models.NewsItem, error) {
	n.mu.Lock()
	n.queries = append(n.queries, query)
	n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	if n.byQuery != nil {
		return n.byQuery[query], nil
	}
	return n.items, nil
}

func (n *fakeNews) queryCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queries)
}

// fakeVectors serves result batches in call order, repeating the last batch
// once exhausted.
type fakeVectors struct {
	mu      sync.Mutex
	batches [][]vectordb.ScoredPassage
	err     error
	calls   int
	limits  []int
	filters []map[string]interface{}
}

func (v *fakeVectors) Query(_ context.Context, _ []float32, limit int, filter map[string]interface{}) ([]vectordb.ScoredPassage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	v.limits = append(v.limits, limit)
	v.filters = append(v.filters, filter)
	if v.err != nil {
		return nil, v.err
	}
	if len(v.batches) == 0 {
		return nil, nil
	}
	idx := v.calls - 1
	if idx >= len(v.batches) {
		idx = len(v.batches) - 1
	}
	return v.batches[idx], nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

func testActivities(t *testing.T, deps Deps) *Activities {
	t.Helper()
	if deps.Prompts == nil {
		pack, err := prompts.Load("")
		require.NoError(t, err)
		deps.Prompts = pack
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return NewActivities(nil, deps)
}

// financialState builds a PipelineState with the given query, tickers, and
// every need flag set as requested.
func financialState(query string, tickers []string, c models.Classification) *models.PipelineState {
	st := models.NewPipelineState(nil)
	st.ApplyResolution(query)
	c.IsFinancial = true
	c.Tickers = tickers
	st.ApplyClassification(c)
	return st
}

func passage(id, ticker, section, period, content string) vectordb.ScoredPassage {
	return vectordb.ScoredPassage{
		Passage: models.DocPassage{
			ID:        id,
			Ticker:    ticker,
			Section:   section,
			PeriodEnd: period,
			Content:   content,
		},
		Score: 0.9,
	}
}
