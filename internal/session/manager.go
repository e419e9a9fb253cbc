// Package session stores conversations in Redis with a write-through local
// cache. Each session carries the ordered turns plus the last pipeline
// outputs, so follow-up questions can be resolved against what came before.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/models"
)

// Manager handles session persistence with a Redis backend.
type Manager struct {
	client     redis.UniversalClient
	logger     *zap.Logger
	ttl        time.Duration
	maxHistory int

	mu          sync.RWMutex
	localCache  map[string]*Session  // local cache for performance
	cacheAccess map[string]time.Time // last access time for LRU eviction
	maxCached   int
}

// NewManager creates a session manager on top of an existing Redis client.
// The caller owns the client lifecycle.
func NewManager(cfg config.SessionConfig, client redis.UniversalClient, logger *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 50
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         cfg.TTL,
		maxHistory:  cfg.MaxHistory,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxCached:   cfg.CacheSize,
	}
}

// GetOrCreate loads the session with the given ID, creating a fresh one when
// the ID is empty, unknown, or expired. A client-supplied ID is kept on
// creation so callers can hold a stable handle across reconnects.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*Session, bool, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else {
		existing, err := m.Get(ctx, sessionID)
		switch {
		case err == nil:
			return existing, false, nil
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
			// fall through to create
		default:
			return nil, false, err
		}
	}

	now := time.Now()
	session := &Session{
		ID:        sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		State:     models.PipelineState{Messages: make([]models.Turn, 0)},
	}
	if err := m.Save(ctx, session); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	m.logger.Info("Created new session", zap.String("session_id", sessionID))
	metrics.SessionsCreated.Inc()
	return session, true, nil
}

// Get retrieves a session by ID, checking the local cache before Redis.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	cached, ok := m.localCache[sessionID]
	m.mu.RUnlock()
	if ok {
		metrics.SessionCacheHits.Inc()
		if cached.IsExpired() {
			_ = m.Delete(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return cached, nil
	}
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.IsExpired() {
		_ = m.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.cacheLocally(&session)
	return &session, nil
}

// Save writes a session to Redis and the local cache. The conversation is
// trimmed to the configured history bound before persisting.
func (m *Manager) Save(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	session.UpdatedAt = time.Now()
	if n := len(session.State.Messages); n > m.maxHistory {
		session.State.Messages = session.State.Messages[n-m.maxHistory:]
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	if err := m.client.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	m.cacheLocally(session)
	return nil
}

// Extend slides the session expiry out by the configured TTL. In-place;
// the caller persists via Save. Active conversations stay alive past the
// window a freshly created session would get.
func (m *Manager) Extend(session *Session) {
	session.ExpiresAt = time.Now().Add(m.ttl)
}

// Delete removes a session from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.mu.Lock()
	delete(m.localCache, sessionID)
	delete(m.cacheAccess, sessionID)
	metrics.SessionsActive.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	return nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (m *Manager) cacheLocally(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localCache[session.ID] = session
	m.cacheAccess[session.ID] = time.Now()
	m.evictLocked()
	metrics.SessionsActive.Set(float64(len(m.localCache)))
}

// evictLocked drops the least recently used half of the cache when it grows
// past the configured bound. Caller holds mu.
func (m *Manager) evictLocked() {
	if len(m.localCache) <= m.maxCached {
		return
	}
	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		entries = append(entries, accessEntry{id: id, time: m.cacheAccess[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].time.Before(entries[j].time) })

	toRemove := m.maxCached / 2
	if toRemove < 1 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
