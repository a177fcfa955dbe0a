// Package cachekv implements the Cache Storage contract from spec.md §4.1:
// an atomic, read-through-expiring key/value store with two interchangeable
// backends — an in-memory map and a SQLite-backed store for production,
// chosen over the teacher's cgo sqlite3 driver so the backend has no cgo
// requirement (see DESIGN.md). Backend choice is invisible to callers.
package cachekv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"riptide/internal/logging"
	"riptide/internal/riperrors"
)

// Stats mirrors the counters spec.md §4.1 requires from stats().
type Stats struct {
	TotalKeys       int64
	MemoryUsageBytes int64
	Hits            int64
	Misses          int64
}

// HitRate returns Hits / (Hits+Misses), or 0 when no lookups were made.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Store is the Cache Storage contract. Both backends implement it
// identically from the caller's perspective.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	DeleteMany(ctx context.Context, keys []string) (int, error)
	ClearPattern(ctx context.Context, glob string) (int, error)
	Stats(ctx context.Context) (Stats, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}

type entry struct {
	value   []byte
	expires time.Time // zero means no expiration
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemoryStore is an in-process map-backed Store, for tests and embedded use.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]entry
	hits  int64
	misses int64
	log   *logging.Logger
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]entry), log: logging.Get(logging.CategoryCache)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(m.data, key)
		m.misses++
		return nil, false, nil
	}
	m.hits++
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = entry{value: stored, expires: exp}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *MemoryStore) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	for k, v := range entries {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := m.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	e.expires = time.Now().Add(ttl)
	m.data[key] = e
	return true, nil
}

func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || e.expired(time.Now()) {
		return 0, false, nil
	}
	if e.expires.IsZero() {
		return 0, true, nil
	}
	return time.Until(e.expires), true, nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.data[key]; ok && !e.expired(time.Now()) {
		n = parseInt64(e.value)
	}
	n += delta
	m.data[key] = entry{value: int64Bytes(n)}
	return n, nil
}

func (m *MemoryStore) DeleteMany(ctx context.Context, keys []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ClearPattern(ctx context.Context, glob string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k := range m.data {
		if matchGlob(glob, k) {
			delete(m.data, k)
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bytes int64
	for _, e := range m.data {
		bytes += int64(len(e.value))
	}
	return Stats{
		TotalKeys:        int64(len(m.data)),
		MemoryUsageBytes: bytes,
		Hits:             m.hits,
		Misses:           m.misses,
	}, nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) bool { return true }
func (m *MemoryStore) Close() error                         { return nil }

// matchGlob supports the single '*' wildcard form used by cache-key
// invalidation patterns (e.g. "riptide:v1:acme:*").
func matchGlob(glob, s string) bool {
	if !strings.Contains(glob, "*") {
		return glob == s
	}
	parts := strings.SplitN(glob, "*", 2)
	prefix, suffix := parts[0], parts[1]
	return strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) && len(s) >= len(prefix)+len(suffix)
}

func int64Bytes(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func parseInt64(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}

// Open constructs a Store for the given backend ("memory" or "sqlite").
func Open(backend, sqlitePath string) (Store, error) {
	switch backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, riperrors.New(riperrors.Config, "cachekv.Open", "unknown backend: "+backend)
	}
}
