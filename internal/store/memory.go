package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	gocache "github.com/patrickmn/go-cache"

	"prompt-cache/internal/common/errors"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/metrics"
)

// braceEscaper disables gobwas alternation so patterns keep Redis glob meaning.
var braceEscaper = strings.NewReplacer("{", `\{`, "}", `\}`)

// MemoryStore implements Store in process over patrickmn/go-cache. It is meant
// for single-instance deployments and local development.
type MemoryStore struct {
	cache   *gocache.Cache
	batch   int
	metrics *metrics.Recorder
	logger  logging.Logger

	// mu serializes read-modify-write commands (Increment, Expire).
	mu sync.Mutex
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(config Config) *MemoryStore {
	config.applyDefaults()
	return &MemoryStore{
		cache:   gocache.New(gocache.NoExpiration, config.CleanupInterval),
		batch:   config.ScanBatch,
		metrics: config.Metrics,
		logger:  logging.Component(config.Logger, "store").WithFields(logging.String("backend", string(BackendMemory))),
	}
}

func (m *MemoryStore) observe(op string, result metrics.StoreResult, start time.Time) {
	m.metrics.ObserveStore(string(BackendMemory), op, result, time.Since(start))
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func toBytes(v interface{}) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out, true
	case int64:
		return []byte(strconv.FormatInt(val, 10)), true
	default:
		return nil, false
	}
}

// Get retrieves a value from memory
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool) {
	value, found, err := m.Lookup(ctx, key)
	return value, found && err == nil
}

// Lookup retrieves a value from memory. A value that is not a byte string or
// counter is reported as a failure.
func (m *MemoryStore) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, found := m.cache.Get(key)
	if !found {
		m.observe("get", metrics.StoreMiss, start)
		return nil, false, nil
	}
	b, ok := toBytes(v)
	if !ok {
		m.observe("get", metrics.StoreError, start)
		return nil, false, errors.InternalError(fmt.Sprintf("unexpected value type %T at %s", v, key), nil)
	}
	m.observe("get", metrics.StoreHit, start)
	return b, true, nil
}

// Set stores a copy of value in memory
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	start := time.Now()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.cache.Set(key, stored, expiration(ttl))
	m.observe("set", metrics.StoreOK, start)
	return true
}

// Delete removes keys from memory
func (m *MemoryStore) Delete(_ context.Context, keys ...string) bool {
	start := time.Now()
	for _, k := range keys {
		m.cache.Delete(k)
	}
	m.observe("delete", metrics.StoreOK, start)
	return true
}

// DeletePattern removes every key matching a Redis-style glob. The keyspace
// already lives in this process, so matching walks a snapshot of it and
// deletes matches in chunks of the scan batch size.
func (m *MemoryStore) DeletePattern(_ context.Context, pattern string) (int64, bool) {
	start := time.Now()
	g, err := glob.Compile(braceEscaper.Replace(pattern))
	if err != nil {
		m.logger.Warn("Invalid delete pattern",
			logging.String("pattern", pattern),
			logging.Err(err),
		)
		m.observe("delete_pattern", metrics.StoreError, start)
		return 0, false
	}

	var purged int64
	chunk := make([]string, 0, m.batch)
	flush := func() {
		for _, k := range chunk {
			m.cache.Delete(k)
		}
		purged += int64(len(chunk))
		chunk = chunk[:0]
	}

	for k := range m.cache.Items() {
		if !g.Match(k) {
			continue
		}
		chunk = append(chunk, k)
		if len(chunk) == m.batch {
			flush()
		}
	}
	flush()

	m.observe("delete_pattern", metrics.StoreOK, start)
	return purged, true
}

// Exists checks if a key exists
func (m *MemoryStore) Exists(_ context.Context, key string) bool {
	start := time.Now()
	_, found := m.cache.Get(key)
	if found {
		m.observe("exists", metrics.StoreHit, start)
	} else {
		m.observe("exists", metrics.StoreMiss, start)
	}
	return found
}

// TTL returns the remaining lifetime of a key
func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool) {
	start := time.Now()
	_, exp, found := m.cache.GetWithExpiration(key)
	m.observe("ttl", metrics.StoreOK, start)
	if !found {
		return 0, false
	}
	if exp.IsZero() {
		return NoExpiry, true
	}
	return time.Until(exp), true
}

// Increment bumps a counter, setting ttl only when the counter is created.
func (m *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, bool) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exp, found := m.cache.GetWithExpiration(key)
	if !found {
		m.cache.Set(key, int64(1), expiration(ttl))
		m.observe("increment", metrics.StoreOK, start)
		return 1, true
	}

	var current int64
	switch val := v.(type) {
	case int64:
		current = val
	case []byte:
		parsed, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil {
			m.observe("increment", metrics.StoreError, start)
			return 0, false
		}
		current = parsed
	default:
		m.observe("increment", metrics.StoreError, start)
		return 0, false
	}

	remaining := gocache.NoExpiration
	if !exp.IsZero() {
		remaining = time.Until(exp)
		if remaining <= 0 {
			// Expired but not yet collected: this increment starts a new window.
			m.cache.Set(key, int64(1), expiration(ttl))
			m.observe("increment", metrics.StoreOK, start)
			return 1, true
		}
	}

	m.cache.Set(key, current+1, remaining)
	m.observe("increment", metrics.StoreOK, start)
	return current + 1, true
}

// Expire sets a key's expiry. A non-positive ttl deletes the key, as Redis does.
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) bool {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.cache.Get(key)
	if !found {
		m.observe("expire", metrics.StoreMiss, start)
		return false
	}
	if ttl <= 0 {
		m.cache.Delete(key)
	} else {
		m.cache.Set(key, v, ttl)
	}
	m.observe("expire", metrics.StoreOK, start)
	return true
}

// PipelineGet fetches keys in order
func (m *MemoryStore) PipelineGet(ctx context.Context, keys []string) []Result {
	results := make([]Result, len(keys))
	for i, k := range keys {
		v, found := m.Get(ctx, k)
		results[i] = Result{Key: k, Value: v, Found: found}
	}
	return results
}

// PipelineSet writes entries in order
func (m *MemoryStore) PipelineSet(ctx context.Context, entries []Entry) bool {
	for _, e := range entries {
		m.Set(ctx, e.Key, e.Value, e.TTL)
	}
	return true
}

// Health always succeeds for the in-process store.
func (m *MemoryStore) Health(context.Context) error {
	return nil
}

// Close drops every entry.
func (m *MemoryStore) Close() error {
	m.cache.Flush()
	return nil
}
