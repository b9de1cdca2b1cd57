// Package ratelimit counts requests per (action, identifier) in the cache
// store. Counters are created by the first request of a window with the window
// as their expiry and are reset only by that expiry. When the store cannot be
// reached every request is allowed.
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/keys"
	"prompt-cache/internal/metrics"
	"prompt-cache/internal/store"
)

type Limiter struct {
	store   store.Store
	config  *Config
	now     func() time.Time
	metrics *metrics.Recorder
	logger  logging.Logger
}

type Config struct {
	DefaultLimit  int           `json:"default_limit"`
	DefaultWindow time.Duration `json:"default_window"`
	Enabled       bool          `json:"enabled"`
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// FailOpen marks a request allowed only because the store was unavailable.
	FailOpen bool `json:"-"`
}

func NewLimiter(s store.Store, config *Config, recorder *metrics.Recorder, logger logging.Logger) *Limiter {
	if config == nil {
		config = &Config{
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			Enabled:       true,
		}
	}

	return &Limiter{
		store:   s,
		config:  config,
		now:     time.Now,
		metrics: recorder,
		logger:  logging.Component(logger, "ratelimit"),
	}
}

// normalize replaces a non-positive limit or window with the defaults. A
// counter without a window would never expire.
func (l *Limiter) normalize(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = l.config.DefaultLimit
	}
	if window <= 0 {
		window = l.config.DefaultWindow
	}
	if window <= 0 {
		window = time.Minute
	}
	return limit, window
}

func (l *Limiter) allowAll(limit int, window time.Duration) Decision {
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
		ResetAt:   l.now().Add(window),
	}
}

func (l *Limiter) record(action string, d Decision) Decision {
	l.metrics.ObserveRateLimit(action, d.Allowed, d.FailOpen)
	return d
}

// CheckAndConsume counts one request against a fixed window of the given
// length and reports whether it fits in limit.
func (l *Limiter) CheckAndConsume(ctx context.Context, identifier, action string, limit int, window time.Duration) Decision {
	limit, window = l.normalize(limit, window)
	if !l.config.Enabled {
		return l.allowAll(limit, window)
	}

	key := keys.RateLimit(action, identifier)
	count, ok := l.store.Increment(ctx, key, window)
	if !ok {
		l.logger.Debug("Rate limit store unavailable, allowing request",
			logging.String("action", action),
		)
		d := l.allowAll(limit, window)
		d.FailOpen = true
		return l.record(action, d)
	}

	now := l.now()
	resetAt := now.Add(window)
	if count > 1 {
		resetAt = l.resetFromTTL(ctx, key, now, window)
	}

	return l.record(action, Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, float64(count)),
		ResetAt:   resetAt,
	})
}

// resetFromTTL derives the window end from the counter's remaining lifetime.
// A counter that somehow lost its expiry is given one again.
func (l *Limiter) resetFromTTL(ctx context.Context, key string, now time.Time, window time.Duration) time.Time {
	d, ok := l.store.TTL(ctx, key)
	switch {
	case !ok:
		return now.Add(window)
	case d == store.NoExpiry:
		l.store.Expire(ctx, key, window)
		return now.Add(window)
	default:
		return now.Add(d)
	}
}

// CheckSliding approximates a sliding window with two fixed buckets: the
// previous bucket's count is weighted by how much of it still overlaps the
// window ending now.
func (l *Limiter) CheckSliding(ctx context.Context, identifier, action string, limit int, window time.Duration) Decision {
	limit, window = l.normalize(limit, window)
	if !l.config.Enabled {
		return l.allowAll(limit, window)
	}

	now := l.now()
	bucket := now.UnixNano() / int64(window)
	bucketStart := time.Unix(0, bucket*int64(window))
	elapsed := float64(now.Sub(bucketStart)) / float64(window)

	// Buckets live for two windows so the next bucket can still weigh them.
	count, ok := l.store.Increment(ctx, keys.RateLimitBucket(action, identifier, bucket), 2*window)
	if !ok {
		d := l.allowAll(limit, window)
		d.FailOpen = true
		return l.record(action, d)
	}

	var previous int64
	if raw, found := l.store.Get(ctx, keys.RateLimitBucket(action, identifier, bucket-1)); found {
		previous, _ = strconv.ParseInt(string(raw), 10, 64)
	}

	weighted := float64(previous)*(1-elapsed) + float64(count)
	return l.record(action, Decision{
		Allowed:   weighted <= float64(limit),
		Limit:     limit,
		Remaining: remaining(limit, weighted),
		ResetAt:   bucketStart.Add(window),
	})
}

func (l *Limiter) CheckDefaultLimit(ctx context.Context, identifier, action string) Decision {
	return l.CheckAndConsume(ctx, identifier, action, l.config.DefaultLimit, l.config.DefaultWindow)
}

func (l *Limiter) Enabled() bool {
	return l.config.Enabled
}

func remaining(limit int, used float64) int {
	left := limit - int(math.Ceil(used))
	if left < 0 {
		return 0
	}
	return left
}
