// Package pricing converts LLM token usage into estimated USD cost.
//
// A small built-in table covers the default model set; config/models.yaml
// overrides or extends it when present.
package pricing

import (
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	pmetrics "github.com/finsight-lab/finsight/internal/metrics"
)

// ModelPrice holds USD prices per 1K tokens for one model. Split prices
// take precedence over the combined rate.
type ModelPrice struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

// cost returns the USD cost for a token split, or false when the entry
// carries no usable price.
func (p ModelPrice) cost(in, out int64) (float64, bool) {
	if p.InputPer1K > 0 && p.OutputPer1K > 0 {
		return float64(in)/1000.0*p.InputPer1K + float64(out)/1000.0*p.OutputPer1K, true
	}
	if p.CombinedPer1K > 0 {
		return float64(in+out) / 1000.0 * p.CombinedPer1K, true
	}
	return 0, false
}

// priceTable is an immutable snapshot of effective prices. Readers share
// it through an atomic pointer so Reload never blocks cost lookups.
type priceTable struct {
	models   map[string]ModelPrice
	perToken float64
}

var current atomic.Pointer[priceTable]

// builtin keeps cost accounting working with no config file at all.
var builtin = map[string]ModelPrice{
	"gpt-4o":                 {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"text-embedding-3-small": {CombinedPer1K: 0.00002},
}

// fallbackPerToken is $0.002 per 1K tokens.
const fallbackPerToken = 0.000002

// defaultPaths lists fixed candidate locations, probed before walking up
// from the working directory. Index 0 is the env override.
var defaultPaths = []string{
	os.Getenv("MODELS_CONFIG_PATH"),
	"/app/config/models.yaml",
	"./config/models.yaml",
}

type fileConfig struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]ModelPrice `yaml:"models"`
	} `yaml:"pricing"`
}

// candidatePaths returns the fixed locations followed by config/models.yaml
// in each ancestor of the working directory, so tests running from package
// directories still find a repo-level file.
func candidatePaths() []string {
	paths := append([]string{}, defaultPaths...)
	if wd, err := os.Getwd(); err == nil {
		for i := 0; i < 6; i++ {
			paths = append(paths, filepath.Join(wd, "config", "models.yaml"))
			wd = filepath.Dir(wd)
		}
	}
	return paths
}

// buildTable layers the first readable config file over the builtin prices.
func buildTable() *priceTable {
	t := &priceTable{
		models:   make(map[string]ModelPrice, len(builtin)),
		perToken: fallbackPerToken,
	}
	for name, p := range builtin {
		t.models[name] = p
	}
	for _, path := range candidatePaths() {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			log.Printf("WARNING: ignoring malformed pricing config %s: %v", path, err)
			continue
		}
		for name, p := range fc.Pricing.Models {
			t.models[name] = p
		}
		if d := fc.Pricing.Defaults.CombinedPer1K; d > 0 {
			t.perToken = d / 1000.0
		}
		break
	}
	return t
}

func table() *priceTable {
	if t := current.Load(); t != nil {
		return t
	}
	t := buildTable()
	// First loader wins so concurrent callers agree on one snapshot.
	if current.CompareAndSwap(nil, t) {
		return t
	}
	return current.Load()
}

// Reload rebuilds the price table from disk. Safe to call concurrently
// with cost lookups.
func Reload() {
	current.Store(buildTable())
}

// DefaultPerToken returns the combined fallback price for one token.
func DefaultPerToken() float64 {
	return table().perToken
}

// CostForSplit estimates the USD cost of a request given its prompt and
// completion token counts. Unknown models fall back to the default rate
// and are counted in the pricing fallback metric.
func CostForSplit(model string, inputTokens, outputTokens int64) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	t := table()
	if p, ok := t.models[model]; ok {
		if c, priced := p.cost(inputTokens, outputTokens); priced {
			return c
		}
	}
	reason := "unknown_model"
	if model == "" {
		reason = "missing_model"
	}
	pmetrics.PricingFallbacks.WithLabelValues(reason).Inc()
	return float64(inputTokens+outputTokens) * t.perToken
}
