package embeddings

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedCache is the optional second cache tier, shared across replicas.
// Implementations must treat every fault as a miss; the caller falls through
// to the embeddings API.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration)
}

type lruNode struct {
	key     string
	vec     []float32
	expires time.Time
	prev    *lruNode
	next    *lruNode
}

// LocalLRU is the first cache tier: per-process, bounded, TTL checked on
// read. Nodes form an intrusive list ordered most to least recently used.
type LocalLRU struct {
	mu    sync.Mutex
	limit int
	nodes map[string]*lruNode
	head  *lruNode
	tail  *lruNode
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{limit: capacity, nodes: make(map[string]*lruNode, capacity)}
}

// unlink detaches n from the recency list. Caller holds mu.
func (l *LocalLRU) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// pushFront makes n the most recently used node. Caller holds mu.
func (l *LocalLRU) pushFront(n *lruNode) {
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *LocalLRU) Get(key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.nodes[key]
	if !ok {
		return nil, false
	}
	l.unlink(n)
	if !n.expires.After(time.Now()) {
		delete(l.nodes, key)
		return nil, false
	}
	l.pushFront(n)
	return n.vec, true
}

func (l *LocalLRU) Set(key string, vec []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.nodes[key]; ok {
		n.vec = vec
		n.expires = time.Now().Add(ttl)
		l.unlink(n)
		l.pushFront(n)
		return
	}
	n := &lruNode{key: key, vec: vec, expires: time.Now().Add(ttl)}
	l.nodes[key] = n
	l.pushFront(n)
	if len(l.nodes) > l.limit {
		oldest := l.tail
		l.unlink(oldest)
		delete(l.nodes, oldest.key)
	}
}

// RedisCache stores vectors as raw little-endian float32 bytes so replicas
// can share them without a serialization round trip through JSON.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an existing Redis client as a shared cache tier.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil || len(b)%4 != 0 || len(b) == 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) {
	b := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	// Write failures degrade to a cold cache, nothing else.
	_ = r.client.Set(ctx, key, b, ttl).Err()
}

// MakeKey builds a stable cache key from model and input text.
func MakeKey(model, text string) string {
	h := md5.New()
	h.Write([]byte(model))
	h.Write([]byte{'|'})
	h.Write([]byte(text))
	return "emb:" + hex.EncodeToString(h.Sum(nil))
}
