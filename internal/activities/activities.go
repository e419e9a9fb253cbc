// Package activities implements the pipeline stages: query resolution,
// intent classification, the four evidence fetchers, and answer synthesis.
//
// Every stage resolves its own faults. Methods return degraded outputs
// (empty defaults, per-ticker error markers, fallback strings) instead of
// errors, so a failing collaborator can never abort a run.
package activities

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/market"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/prompts"
	"github.com/finsight-lab/finsight/internal/vectordb"
)

// Result caps applied to every run.
const (
	newsLimit = 5
	docLimit  = 8
)

// Generator produces a completion for a system/user prompt pair.
type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// MarketSource serves point-in-time metric snapshots and daily price history.
type MarketSource interface {
	Snapshot(ctx context.Context, ticker string) (*models.FundamentalSnapshot, error)
	History(ctx context.Context, ticker string) ([]market.Candle, error)
}

// NewsSource runs a single news search.
type NewsSource interface {
	Search(ctx context.Context, query string) ([]models.NewsItem, error)
}

// VectorSource performs similarity search over ingested filings.
type VectorSource interface {
	Query(ctx context.Context, vector []float32, limit int, filter map[string]interface{}) ([]vectordb.ScoredPassage, error)
}

// Embedder converts query text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps bundles the collaborators the stages call out to.
type Deps struct {
	Fast     Generator // query rewriting, classification, news query generation
	Strong   Generator // final answer synthesis
	Market   MarketSource
	News     NewsSource
	Vectors  VectorSource
	Embedder Embedder
	Prompts  *prompts.Pack
	Logger   *zap.Logger
}

// tunables are the stage settings that may change on a config reload.
type tunables struct {
	classifyTimeout time.Duration
	fetchK          int
	mmrLambda       float64
}

// Activities holds stage implementations and their collaborators.
type Activities struct {
	fast     Generator
	strong   Generator
	market   MarketSource
	news     NewsSource
	vectors  VectorSource
	embedder Embedder
	prompts  *prompts.Pack
	logger   *zap.Logger

	tun atomic.Pointer[tunables]
}

// NewActivities creates a new activities instance with dependencies.
func NewActivities(cfg *config.Config, deps Deps) *Activities {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Activities{
		fast:     deps.Fast,
		strong:   deps.Strong,
		market:   deps.Market,
		news:     deps.News,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		prompts:  deps.Prompts,
		logger:   logger,
	}
	a.ApplyConfig(cfg)
	return a
}

// ApplyConfig installs the tunable stage settings. Safe to call while runs
// are in flight; stages read one snapshot per invocation. Out-of-range
// values fall back to defaults.
func (a *Activities) ApplyConfig(cfg *config.Config) {
	t := tunables{
		classifyTimeout: 10 * time.Second,
		fetchK:          20,
		mmrLambda:       0.5,
	}
	if cfg != nil {
		if cfg.LLM.ClassifyTimeout > 0 {
			t.classifyTimeout = cfg.LLM.ClassifyTimeout
		}
		if cfg.Vector.FetchK > 0 {
			t.fetchK = cfg.Vector.FetchK
		}
		if cfg.Vector.MMRLambda >= 0 && cfg.Vector.MMRLambda <= 1 {
			t.mmrLambda = cfg.Vector.MMRLambda
		}
	}
	a.tun.Store(&t)
}
