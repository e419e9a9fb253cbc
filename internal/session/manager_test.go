package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/models"
)

func testManager(t *testing.T, cfg config.SessionConfig) (*Manager, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(cfg, client, zap.NewNop()), client
}

func TestGetOrCreateAssignsID(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{})
	ctx := context.Background()

	s, created, err := mgr.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, s.ID)

	again, created, err := mgr.GetOrCreate(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s.ID, again.ID)
}

func TestGetOrCreateKeepsClientSuppliedID(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{})

	s, created, err := mgr.GetOrCreate(context.Background(), "my-handle")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "my-handle", s.ID)
}

func TestSaveTrimsHistory(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{MaxHistory: 3})
	ctx := context.Background()

	s, _, err := mgr.GetOrCreate(ctx, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		s.State.Messages = append(s.State.Messages,
			models.Turn{Role: models.RoleUser, Content: string(rune('a' + i))})
	}
	require.NoError(t, mgr.Save(ctx, s))

	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns(), 3)
	assert.Equal(t, "e", got.Turns()[2].Content)
	assert.Equal(t, "c", got.Turns()[0].Content)
}

func TestGetMissingSession(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{})
	_, err := mgr.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiredSessionIsRejected(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{})
	ctx := context.Background()

	s, _, err := mgr.GetOrCreate(ctx, "")
	require.NoError(t, err)
	s.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, mgr.Save(ctx, s))

	_, err = mgr.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// a fresh session can be created under the same handle
	replacement, created, err := mgr.GetOrCreate(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, replacement.Turns())
}

func TestExtendSlidesExpiry(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{TTL: time.Hour})
	ctx := context.Background()

	s, _, err := mgr.GetOrCreate(ctx, "")
	require.NoError(t, err)
	before := s.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	mgr.Extend(s)
	require.NoError(t, mgr.Save(ctx, s))

	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.After(before))
}

func TestStateSurvivesRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	writer := NewManager(config.SessionConfig{}, client, zap.NewNop())
	s, _, err := writer.GetOrCreate(ctx, "round-trip")
	require.NoError(t, err)
	s.State.Query = "How is AAPL doing?"
	s.State.Tickers = []string{"AAPL"}
	s.State.IsFinancial = true
	s.State.Messages = []models.Turn{{Role: models.RoleUser, Content: "How is AAPL doing?"}}
	require.NoError(t, writer.Save(ctx, s))

	// a second manager has a cold local cache and must read Redis
	reader := NewManager(config.SessionConfig{}, client, zap.NewNop())
	got, err := reader.Get(ctx, "round-trip")
	require.NoError(t, err)
	assert.Equal(t, "How is AAPL doing?", got.State.Query)
	assert.Equal(t, []string{"AAPL"}, got.State.Tickers)
	assert.True(t, got.State.IsFinancial)
	require.Len(t, got.Turns(), 1)
}

func TestDeleteRemovesSession(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{})
	ctx := context.Background()

	s, _, err := mgr.GetOrCreate(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, s.ID))

	_, err = mgr.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLocalCacheEviction(t *testing.T) {
	mgr, _ := testManager(t, config.SessionConfig{CacheSize: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := mgr.GetOrCreate(ctx, "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	mgr.mu.RLock()
	size := len(mgr.localCache)
	mgr.mu.RUnlock()
	assert.LessOrEqual(t, size, 3, "cache must stay near its bound after eviction")
}
