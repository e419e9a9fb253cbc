package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Service.Port)
	assert.Equal(t, "parallel", cfg.Pipeline.Policy)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 10*time.Second, cfg.LLM.ClassifyTimeout)
	assert.Equal(t, 20, cfg.Vector.FetchK)
	assert.Equal(t, 0.5, cfg.Vector.MMRLambda)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  port: 9090
pipeline:
  policy: chain
session:
  ttl: 10m
vector:
  collection: test_chunks
  mmr_lambda: 0.7
llm:
  fast_model: gpt-4o-mini
  strong_model: gpt-4o
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, "chain", cfg.Pipeline.Policy)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "test_chunks", cfg.Vector.Collection)
	assert.Equal(t, 0.7, cfg.Vector.MMRLambda)
	// untouched keys keep defaults
	assert.Equal(t, 50, cfg.Session.MaxHistory)
	assert.Equal(t, "https://serpapi.com/search", cfg.News.BaseURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("FINNHUB_API_KEY", "fh-test")
	t.Setenv("REDIS_HOST", "redis-test")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "fh-test", cfg.Market.APIKey)
	assert.Equal(t, "redis-test:6380", cfg.Redis.Addr())
}

func TestValidate(t *testing.T) {
	t.Run("bad policy", func(t *testing.T) {
		cfg := Default()
		cfg.Pipeline.Policy = "roundrobin"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad lambda", func(t *testing.T) {
		cfg := Default()
		cfg.Vector.MMRLambda = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := Default()
		cfg.Service.Port = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero ttl", func(t *testing.T) {
		cfg := Default()
		cfg.Session.TTL = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("default is valid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  policy: parallel\n"), 0o644))

	m, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "parallel", m.Current().Pipeline.Policy)

	// Manual reload path: rewrite and re-read through the same viper instance.
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  policy: chain\n"), 0o644))
	require.NoError(t, m.v.ReadInConfig())
	cfg := Default()
	require.NoError(t, m.v.Unmarshal(cfg))
	assert.Equal(t, "chain", cfg.Pipeline.Policy)
}
