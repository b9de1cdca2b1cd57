// Package store wraps the key-value cache behind a fail-open interface.
//
// Every operation swallows its own failure: reads report absent, writes report
// false, and the cause is logged and counted. Callers decide what a failure
// means for them without ever having to handle an error from the cache.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"prompt-cache/internal/circuitbreaker"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/metrics"
)

// NoExpiry is returned by TTL for keys that exist without an expiry.
const NoExpiry time.Duration = -1

// Store is the cache store contract shared by all backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	// Lookup is Get for callers that must tell a miss from a failure: a miss
	// is (nil, false, nil), a failure returns the classified cause.
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A ttl of zero or less stores it without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Delete(ctx context.Context, keys ...string) bool
	// DeletePattern removes every key matching a glob and returns how many
	// keys it removed.
	DeletePattern(ctx context.Context, pattern string) (int64, bool)
	Exists(ctx context.Context, key string) bool
	// TTL returns the remaining lifetime of key, NoExpiry for persistent keys,
	// and false when the key is absent or the store failed.
	TTL(ctx context.Context, key string) (time.Duration, bool)
	// Increment adds one to the counter at key. A positive ttl is applied only
	// when the increment created the counter.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, bool)
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	PipelineGet(ctx context.Context, keys []string) []Result
	PipelineSet(ctx context.Context, entries []Entry) bool
	Health(ctx context.Context) error
	Close() error
}

// Result is one slot of a PipelineGet, in request order.
type Result struct {
	Key   string
	Value []byte
	Found bool
}

// Entry is one write of a PipelineSet.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Backend selects the store implementation.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Config holds store configuration
type Config struct {
	Backend Backend
	// Client is required for the redis backend.
	Client    redis.UniversalClient
	KeyPrefix string
	// Timeout bounds every single store command.
	Timeout time.Duration
	// ScanBatch is the SCAN COUNT hint and the delete chunk size.
	ScanBatch       int
	CleanupInterval time.Duration
	Breaker         circuitbreaker.Config
	Metrics         *metrics.Recorder
	Logger          logging.Logger
}

// DefaultConfig returns default store configuration
func DefaultConfig() Config {
	return Config{
		Backend:         BackendRedis,
		Timeout:         250 * time.Millisecond,
		ScanBatch:       100,
		CleanupInterval: 10 * time.Minute,
		Breaker:         circuitbreaker.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.ScanBatch <= 0 {
		c.ScanBatch = defaults.ScanBatch
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaults.CleanupInterval
	}
	if c.Breaker == (circuitbreaker.Config{}) {
		c.Breaker = defaults.Breaker
	}
}

// New creates a store based on configuration
func New(config Config) (Store, error) {
	config.applyDefaults()

	switch config.Backend {
	case BackendRedis, "":
		if config.Client == nil {
			return nil, fmt.Errorf("redis client required for redis store")
		}
		return NewRedisStore(config.Client, config), nil

	case BackendMemory:
		return NewMemoryStore(config), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", config.Backend)
	}
}

// MustNew creates a store or panics
func MustNew(config Config) Store {
	s, err := New(config)
	if err != nil {
		panic(err)
	}
	return s
}
