package middleware

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// Store persists serialized results for the cache adapter. Implementations
	// must be safe for concurrent use.
	Store interface {
		// Get returns the value stored under key. ok is false on a miss or
		// when the entry expired.
		Get(ctx context.Context, key string) (value []byte, ok bool, err error)
		// Set stores value under key for ttl.
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	}

	// MemoryStore is a process-local Store bounded to maxEntries. Expired
	// entries are purged lazily before inserts; when the store is full the
	// oldest inserted entry is evicted. Reads do not refresh entries.
	MemoryStore struct {
		maxEntries int
		now        func() time.Time

		mu      sync.Mutex
		seq     uint64
		entries map[string]memoryEntry
	}

	// MemoryStoreOption configures a MemoryStore.
	MemoryStoreOption func(*MemoryStore)

	memoryEntry struct {
		value     []byte
		order     uint64
		expiresAt time.Time
	}

	// RedisClient is the subset of *redis.Client used by RedisStore.
	RedisClient interface {
		Get(ctx context.Context, key string) *redis.StringCmd
		Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	}

	// RedisStore keeps entries in Redis so that processes share a cache.
	// Expiry is delegated to Redis TTLs; capacity is governed by the Redis
	// eviction policy.
	RedisStore struct {
		client RedisClient
		prefix string
	}
)

// DefaultRedisPrefix namespaces cache keys in Redis.
const DefaultRedisPrefix = "shimmer:cache:"

// WithStoreClock overrides the time source, for tests.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns a MemoryStore. maxEntries <= 0 means unbounded.
func NewMemoryStore(maxEntries int, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{maxEntries: maxEntries, now: time.Now, entries: make(map[string]memoryEntry)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}
	s.seq++
	s.entries[key] = memoryEntry{value: value, order: s.seq, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, including expired entries not
// purged yet.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the stored keys ordered by insertion, oldest first.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Compare(s.entries[a].order, s.entries[b].order)
	})
	return keys
}

func (s *MemoryStore) evictOldest() {
	var (
		victim string
		oldest uint64
		found  bool
	)
	for k, e := range s.entries {
		if !found || e.order < oldest {
			victim, oldest, found = k, e.order, true
		}
	}
	if found {
		delete(s.entries, victim)
	}
}

// NewRedisStore returns a Store backed by client. An empty prefix defaults to
// DefaultRedisPrefix.
func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}
