package store

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultMemorySize bounds the memory store when no size is given
const DefaultMemorySize = 10000

// MemoryStore keeps session state in process. Sessions are lost on restart
// and are not shared between replicas.
type MemoryStore struct {
	*serverStore
	cache *lru.LRU[string, []byte]
}

// NewMemoryStore creates a memory store holding at most size sessions, each
// expiring after the cookie max age
func NewMemoryStore(size int, opts CookieOptions, metrics *observability.Metrics) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	opts = opts.withDefaults()
	cache := lru.NewLRU[string, []byte](size, nil, opts.MaxAge)

	return &MemoryStore{
		serverStore: &serverStore{
			name:    BackendMemory,
			backend: &memoryBackend{cache: cache},
			opts:    opts,
			metrics: metrics,
		},
		cache: cache,
	}
}

// Len returns the number of stored sessions
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

type memoryBackend struct {
	cache *lru.LRU[string, []byte]
}

func (b *memoryBackend) get(_ context.Context, id string) ([]byte, error) {
	data, ok := b.cache.Get(id)
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

// set ignores ttl; every entry shares the cache-wide TTL
func (b *memoryBackend) set(_ context.Context, id string, data []byte, _ time.Duration) error {
	b.cache.Add(id, data)
	return nil
}

func (b *memoryBackend) del(_ context.Context, id string) error {
	b.cache.Remove(id)
	return nil
}

func (b *memoryBackend) ping(context.Context) error {
	return nil
}
