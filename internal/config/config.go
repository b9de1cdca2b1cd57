// Package config provides configuration management for the prompt cache service.
// It loads configuration from environment variables with sensible defaults and
// validates it so the service never starts with a cache layer that could hang
// requests or cache without bound.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file; stdout when empty
//   - METRICS_ENABLED: Expose Prometheus metrics on /metrics (default: true)
//
// Cache Store:
//   - CACHE_BACKEND: "redis" or "memory" (default: redis)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - CACHE_KEY_PREFIX: Prefix applied to every cache key (default: empty)
//   - CACHE_STORE_TIMEOUT: Upper bound for a single store call (default: 250ms)
//   - CACHE_WRITE_TIMEOUT: Upper bound for a background cache fill (default: 2s)
//   - CACHE_SCAN_BATCH: SCAN COUNT and delete chunk size (default: 100)
//   - CACHE_COALESCE: De-duplicate concurrent misses per key (default: false)
//
// TTL Tiers:
//   - CACHE_TTL_SHORT (default: 5m)
//   - CACHE_TTL_MEDIUM (default: 30m)
//   - CACHE_TTL_LONG (default: 1h)
//   - CACHE_TTL_SESSION (default: 24h)
//
// Invalidation and Resilience:
//   - INVALIDATION_CONCURRENCY: Parallel deletes per fan-out (default: 16)
//   - BREAKER_MAX_FAILURES: Consecutive store failures before the breaker opens (default: 5)
//   - BREAKER_TIMEOUT: How long the breaker stays open (default: 30s)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_DEFAULT: Default requests per window (default: 100)
//   - RATE_LIMIT_WINDOW: Rate limit time window (default: 60s)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names accepted by CACHE_BACKEND.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all configuration values for the service. Numeric and duration
// fields are kept as strings the way they arrive from the environment; typed
// accessors parse them after Validate has accepted them.
type Config struct {
	// Application settings
	Port           string // Server port number
	LogLevel       string // Logging level (debug, info, warn, error)
	LogFile        string // Optional log file path
	MetricsEnabled bool   // Whether /metrics is served

	// Cache store
	CacheBackend   string // "redis" or "memory"
	RedisAddress   string // Redis server address (host:port)
	RedisPassword  string // Redis authentication password
	RedisDB        string // Redis database number (0-15)
	RedisPoolSize  string // Redis connection pool size
	KeyPrefix      string // Prefix applied to all keys and patterns
	StoreTimeout   string // Per-call store timeout
	WriteTimeout   string // Background cache-fill timeout
	ScanBatch      string // SCAN COUNT / delete chunk size
	CoalesceMisses bool   // Single-flight concurrent misses

	// TTL tier durations
	TTLShort   string
	TTLMedium  string
	TTLLong    string
	TTLSession string

	// Invalidation and breaker
	InvalidationConcurrency string
	BreakerMaxFailures      string
	BreakerTimeout          string

	// Rate limiting configuration
	RateLimitEnabled bool   // Whether rate limiting is enabled
	RateLimitDefault string // Default requests per window
	RateLimitWindow  string // Rate limiting time window (e.g., "60s", "1m")
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config before use.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),

		CacheBackend:   getEnv("CACHE_BACKEND", BackendRedis),
		RedisAddress:   getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnv("REDIS_DB", "0"),
		RedisPoolSize:  getEnv("REDIS_POOL_SIZE", "10"),
		KeyPrefix:      getEnv("CACHE_KEY_PREFIX", ""),
		StoreTimeout:   getEnv("CACHE_STORE_TIMEOUT", "250ms"),
		WriteTimeout:   getEnv("CACHE_WRITE_TIMEOUT", "2s"),
		ScanBatch:      getEnv("CACHE_SCAN_BATCH", "100"),
		CoalesceMisses: getBoolEnv("CACHE_COALESCE", false),

		TTLShort:   getEnv("CACHE_TTL_SHORT", "5m"),
		TTLMedium:  getEnv("CACHE_TTL_MEDIUM", "30m"),
		TTLLong:    getEnv("CACHE_TTL_LONG", "1h"),
		TTLSession: getEnv("CACHE_TTL_SESSION", "24h"),

		InvalidationConcurrency: getEnv("INVALIDATION_CONCURRENCY", "16"),
		BreakerMaxFailures:      getEnv("BREAKER_MAX_FAILURES", "5"),
		BreakerTimeout:          getEnv("BREAKER_TIMEOUT", "30s"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "100"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Unparseable values fall back to the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks every field that the cache layer depends on. A zero or
// negative store timeout is rejected because it would let a wedged store hang
// callers.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.CacheBackend {
	case BackendRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when CACHE_BACKEND is redis")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("CACHE_BACKEND must be 'redis' or 'memory'")
	}

	positiveDurations := []struct {
		name  string
		value string
	}{
		{"CACHE_STORE_TIMEOUT", c.StoreTimeout},
		{"CACHE_WRITE_TIMEOUT", c.WriteTimeout},
		{"CACHE_TTL_SHORT", c.TTLShort},
		{"CACHE_TTL_MEDIUM", c.TTLMedium},
		{"CACHE_TTL_LONG", c.TTLLong},
		{"CACHE_TTL_SESSION", c.TTLSession},
		{"BREAKER_TIMEOUT", c.BreakerTimeout},
	}
	for _, d := range positiveDurations {
		if parsed, err := time.ParseDuration(d.value); err != nil || parsed <= 0 {
			return fmt.Errorf("%s must be a positive duration (e.g., '250ms', '5m')", d.name)
		}
	}

	positiveInts := []struct {
		name  string
		value string
	}{
		{"CACHE_SCAN_BATCH", c.ScanBatch},
		{"INVALIDATION_CONCURRENCY", c.InvalidationConcurrency},
		{"BREAKER_MAX_FAILURES", c.BreakerMaxFailures},
	}
	for _, n := range positiveInts {
		if parsed, err := strconv.Atoi(n.value); err != nil || parsed < 1 {
			return fmt.Errorf("%s must be a positive number", n.name)
		}
	}

	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitDefault); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if window, err := time.ParseDuration(c.RateLimitWindow); err != nil || window <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	return nil
}

// Duration parses a duration field, returning fallback when it is unset or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// Int parses an integer field, returning fallback when it is unset or invalid.
func Int(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
