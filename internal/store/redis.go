package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/go-redis/redis/v8"

	"prompt-cache/internal/circuitbreaker"
	"prompt-cache/internal/common/errors"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/metrics"
)

// incrementScript increments a counter and sets its expiry only when the
// increment created it, so later hits never extend a running window.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 and tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore implements Store over go-redis.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	timeout   time.Duration
	batch     int
	breaker   *circuitbreaker.Breaker
	metrics   *metrics.Recorder
	logger    logging.Logger
}

// NewRedisStore creates a Redis-backed store. The store takes ownership of
// client and closes it in Close.
func NewRedisStore(client redis.UniversalClient, config Config) *RedisStore {
	config.applyDefaults()
	logger := logging.Component(config.Logger, "store").WithFields(logging.String("backend", string(BackendRedis)))

	return &RedisStore{
		client:    client,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
		batch:     config.ScanBatch,
		breaker:   circuitbreaker.New("cache-store", config.Breaker, logger),
		metrics:   config.Metrics,
		logger:    logger,
	}
}

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// do runs one store command under the per-call timeout and the breaker.
// fn reports the metric result of a successful command.
func (s *RedisStore) do(ctx context.Context, op string, fn func(ctx context.Context) (metrics.StoreResult, error)) error {
	start := time.Now()
	result := metrics.StoreError

	err := s.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		r, err := fn(callCtx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err != nil {
		result = metrics.StoreError
	}
	s.metrics.ObserveStore(string(BackendRedis), op, result, time.Since(start))
	return err
}

func (s *RedisStore) fail(op, target string, err error) {
	errType := errors.Classify(err)
	fields := []logging.Field{
		logging.String("operation", op),
		logging.String("target", target),
		logging.String("error_type", string(errType)),
	}
	// An open breaker rejects every call; one warning at the state change is enough.
	if errType == errors.ErrTypeUnavailable {
		s.logger.Debug("Cache store call skipped", fields...)
		return
	}
	s.logger.Warn("Cache store call failed", append(fields, logging.Err(err))...)
}

// Get retrieves a value from Redis
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	value, found, err := s.Lookup(ctx, key)
	return value, found && err == nil
}

// Lookup retrieves a value from Redis and reports store failures separately
// from misses.
func (s *RedisStore) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool

	err := s.do(ctx, "get", func(ctx context.Context) (metrics.StoreResult, error) {
		b, err := s.client.Get(ctx, s.key(key)).Bytes()
		if stderrors.Is(err, redis.Nil) {
			return metrics.StoreMiss, nil
		}
		if err != nil {
			return "", err
		}
		value, found = b, true
		return metrics.StoreHit, nil
	})
	if err != nil {
		s.fail("get", key, err)
		return nil, false, errors.Wrap(err, "cache store get failed")
	}
	return value, found, nil
}

// Set stores a value in Redis
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = 0
	}
	err := s.do(ctx, "set", func(ctx context.Context) (metrics.StoreResult, error) {
		return metrics.StoreOK, s.client.Set(ctx, s.key(key), value, ttl).Err()
	})
	if err != nil {
		s.fail("set", key, err)
		return false
	}
	return true
}

// Delete removes keys from Redis
func (s *RedisStore) Delete(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}

	err := s.do(ctx, "delete", func(ctx context.Context) (metrics.StoreResult, error) {
		return metrics.StoreOK, s.client.Del(ctx, prefixed...).Err()
	})
	if err != nil {
		s.fail("delete", keys[0], err)
		return false
	}
	return true
}

// DeletePattern walks the keyspace with SCAN and deletes matches in chunks of
// at most the scan batch size. Each SCAN page and each DEL is its own bounded
// call, so large keyspaces never block the server or hold a full match list.
func (s *RedisStore) DeletePattern(ctx context.Context, pattern string) (int64, bool) {
	match := s.key(pattern)
	pending := make([]string, 0, s.batch)
	var cursor uint64
	var purged int64

	flush := func(chunk []string) bool {
		var n int64
		err := s.do(ctx, "delete", func(ctx context.Context) (metrics.StoreResult, error) {
			var err error
			n, err = s.client.Del(ctx, chunk...).Result()
			return metrics.StoreOK, err
		})
		if err != nil {
			s.fail("delete_pattern", pattern, err)
			return false
		}
		purged += n
		return true
	}

	for {
		var page []string
		err := s.do(ctx, "scan", func(ctx context.Context) (metrics.StoreResult, error) {
			var err error
			page, cursor, err = s.client.Scan(ctx, cursor, match, int64(s.batch)).Result()
			return metrics.StoreOK, err
		})
		if err != nil {
			s.fail("delete_pattern", pattern, err)
			return purged, false
		}

		pending = append(pending, page...)
		for len(pending) >= s.batch {
			if !flush(pending[:s.batch]) {
				return purged, false
			}
			pending = append(pending[:0], pending[s.batch:]...)
		}

		if cursor == 0 {
			break
		}
	}

	if len(pending) > 0 && !flush(pending) {
		return purged, false
	}
	return purged, true
}

// Exists checks if a key exists
func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	var n int64
	err := s.do(ctx, "exists", func(ctx context.Context) (metrics.StoreResult, error) {
		var err error
		n, err = s.client.Exists(ctx, s.key(key)).Result()
		if n > 0 {
			return metrics.StoreHit, err
		}
		return metrics.StoreMiss, err
	})
	if err != nil {
		s.fail("exists", key, err)
		return false
	}
	return n > 0
}

// TTL returns the remaining lifetime of a key
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool) {
	var d time.Duration
	err := s.do(ctx, "ttl", func(ctx context.Context) (metrics.StoreResult, error) {
		var err error
		d, err = s.client.PTTL(ctx, s.key(key)).Result()
		return metrics.StoreOK, err
	})
	if err != nil {
		s.fail("ttl", key, err)
		return 0, false
	}

	// PTTL replies -2 for a missing key and -1 for a key without expiry.
	switch {
	case d == -2:
		return 0, false
	case d == -1:
		return NoExpiry, true
	default:
		return d, true
	}
}

// Increment bumps a counter, setting ttl only when the counter is created.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	var n int64
	err := s.do(ctx, "increment", func(ctx context.Context) (metrics.StoreResult, error) {
		var err error
		n, err = incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
		return metrics.StoreOK, err
	})
	if err != nil {
		s.fail("increment", key, err)
		return 0, false
	}
	return n, true
}

// Expire sets a key's expiry. It reports false when the key does not exist.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	var ok bool
	err := s.do(ctx, "expire", func(ctx context.Context) (metrics.StoreResult, error) {
		var err error
		ok, err = s.client.PExpire(ctx, s.key(key), ttl).Result()
		return metrics.StoreOK, err
	})
	if err != nil {
		s.fail("expire", key, err)
		return false
	}
	return ok
}

// PipelineGet fetches keys in one round trip. On failure every slot is absent.
func (s *RedisStore) PipelineGet(ctx context.Context, keys []string) []Result {
	results := make([]Result, len(keys))
	for i, k := range keys {
		results[i].Key = k
	}
	if len(keys) == 0 {
		return results
	}

	err := s.do(ctx, "pipeline_get", func(ctx context.Context) (metrics.StoreResult, error) {
		pipe := s.client.Pipeline()
		cmds := make([]*redis.StringCmd, len(keys))
		for i, k := range keys {
			cmds[i] = pipe.Get(ctx, s.key(k))
		}
		// Exec reports redis.Nil when any key is missing; that is a miss, not a failure.
		if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, redis.Nil) {
			return "", err
		}

		for i, cmd := range cmds {
			b, err := cmd.Bytes()
			if err == nil {
				results[i].Value = b
				results[i].Found = true
			}
		}
		return metrics.StoreOK, nil
	})
	if err != nil {
		s.fail("pipeline_get", keys[0], err)
		for i := range results {
			results[i].Value, results[i].Found = nil, false
		}
	}
	return results
}

// PipelineSet writes entries in one round trip.
func (s *RedisStore) PipelineSet(ctx context.Context, entries []Entry) bool {
	if len(entries) == 0 {
		return true
	}
	err := s.do(ctx, "pipeline_set", func(ctx context.Context) (metrics.StoreResult, error) {
		pipe := s.client.Pipeline()
		for _, e := range entries {
			ttl := e.TTL
			if ttl < 0 {
				ttl = 0
			}
			pipe.Set(ctx, s.key(e.Key), e.Value, ttl)
		}
		_, err := pipe.Exec(ctx)
		return metrics.StoreOK, err
	})
	if err != nil {
		s.fail("pipeline_set", entries[0].Key, err)
		return false
	}
	return true
}

// Health pings Redis through the breaker.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.do(ctx, "ping", func(ctx context.Context) (metrics.StoreResult, error) {
		return metrics.StoreOK, s.client.Ping(ctx).Err()
	})
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
