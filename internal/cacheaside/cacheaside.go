// Package cacheaside implements the read path: serve a value from the cache
// store or compute it from the source of truth and store it for later reads.
//
// The cache is an optimization only. Store failures read as misses, cache
// writes happen in the background after the caller already has its value, and
// the only error a caller ever sees is the one its own fetch function returned.
package cacheaside

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"prompt-cache/internal/common/errors"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/keys"
	"prompt-cache/internal/metrics"
	"prompt-cache/internal/store"
	"prompt-cache/internal/ttl"
)

// Options alter a single Resolve call.
type Options struct {
	// SkipCache calls fetch without touching the store at all.
	SkipCache bool
	// ForceRefresh ignores any cached value, refetches and overwrites it.
	ForceRefresh bool
}

// Config holds orchestrator configuration
type Config struct {
	// WriteTimeout bounds each background cache write.
	WriteTimeout time.Duration
	// Coalesce makes concurrent misses for one key share a single fetch.
	// Off by default: concurrent misses each call fetch.
	Coalesce bool
	Policy   *ttl.Policy
	Metrics  *metrics.Recorder
	Logger   logging.Logger
}

// Orchestrator serves cache-aside reads against a store.
type Orchestrator struct {
	store        store.Store
	policy       *ttl.Policy
	writeTimeout time.Duration
	coalesce     bool
	group        singleflight.Group
	pending      sync.WaitGroup
	metrics      *metrics.Recorder
	logger       logging.Logger
}

// New creates an orchestrator over s.
func New(s store.Store, config Config) *Orchestrator {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Second
	}
	if config.Policy == nil {
		config.Policy = ttl.Default()
	}
	return &Orchestrator{
		store:        s,
		policy:       config.Policy,
		writeTimeout: config.WriteTimeout,
		coalesce:     config.Coalesce,
		metrics:      config.Metrics,
		logger:       logging.Component(config.Logger, "cacheaside"),
	}
}

// Policy returns the TTL policy used by ResolveFamily.
func (o *Orchestrator) Policy() *ttl.Policy {
	return o.policy
}

// Resolve returns the cached value at key or, on a miss, the value computed by
// fetch. A fresh value is written back under ttl by a detached goroutine the
// caller never waits for. A non-positive ttl is replaced by the Short tier so
// nothing is cached without expiry.
func Resolve[T any](ctx context.Context, o *Orchestrator, key string, ttl time.Duration, fetch func(context.Context) (T, error), opts Options) (T, error) {
	if opts.SkipCache {
		o.metrics.ObserveLookup(metrics.LookupBypass)
		return fetch(ctx)
	}

	if opts.ForceRefresh {
		o.metrics.ObserveLookup(metrics.LookupRefresh)
		return fill(ctx, o, key, ttl, fetch)
	}

	if raw, found := o.store.Get(ctx, key); found {
		var value T
		err := json.Unmarshal(raw, &value)
		if err == nil {
			o.metrics.ObserveLookup(metrics.LookupHit)
			return value, nil
		}
		o.metrics.ObserveLookup(metrics.LookupDecodeError)
		o.logger.Warn("Discarding undecodable cache entry",
			logging.String("key", key),
			logging.String("error_type", string(errors.ErrTypeSerialization)),
			logging.Err(err),
		)
	} else {
		o.metrics.ObserveLookup(metrics.LookupMiss)
	}

	if !o.coalesce {
		return fill(ctx, o, key, ttl, fetch)
	}

	// The first caller's context drives the shared fetch.
	v, err, shared := o.group.Do(key, func() (interface{}, error) {
		return fill(ctx, o, key, ttl, fetch)
	})
	if shared {
		o.metrics.ObserveLookup(metrics.LookupCoalesced)
	}
	value, ok := v.(T)
	if !ok && err == nil {
		// Another caller resolved the same key to a different type.
		return fill(ctx, o, key, ttl, fetch)
	}
	return value, err
}

// ResolveFamily builds the key for (family, id, params) and caches under the
// family's TTL tier.
func ResolveFamily[T any](ctx context.Context, o *Orchestrator, family keys.Family, id string, params keys.Params, fetch func(context.Context) (T, error), opts Options) (T, error) {
	return Resolve(ctx, o, keys.Build(family, id, params), o.policy.For(family), fetch, opts)
}

func fill[T any](ctx context.Context, o *Orchestrator, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	value, err := fetch(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		o.logger.Warn("Value not cacheable",
			logging.String("key", key),
			logging.String("error_type", string(errors.ErrTypeSerialization)),
			logging.Err(err),
		)
		return value, nil
	}
	// A null would decode as a hit on an empty value; leave the key absent.
	if string(raw) == "null" {
		return value, nil
	}

	o.writeBehind(ctx, key, raw, o.effectiveTTL(ttl))
	return value, nil
}

func (o *Orchestrator) effectiveTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return o.policy.Duration(ttl.Short)
	}
	return d
}

// writeBehind stores raw without blocking the caller. The write outlives the
// request context but not the write timeout.
func (o *Orchestrator) writeBehind(ctx context.Context, key string, raw []byte, d time.Duration) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeTimeout)
		defer cancel()

		ok := o.store.Set(writeCtx, key, raw, d)
		o.metrics.ObserveFill(ok)
		if !ok {
			o.logger.Debug("Background cache write dropped", logging.String("key", key))
		}
	}()
}

// Invalidate removes a single cached key.
func (o *Orchestrator) Invalidate(ctx context.Context, key string) bool {
	return o.store.Delete(ctx, key)
}

// Wait blocks until every background write started so far has finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// LoadMany reads keys in one pipelined round trip and decodes the hits.
// Keys that are absent or undecodable are returned in missing, in input order.
func LoadMany[T any](ctx context.Context, o *Orchestrator, keyList []string) (map[string]T, []string) {
	found := make(map[string]T, len(keyList))
	var missing []string

	for _, r := range o.store.PipelineGet(ctx, keyList) {
		if !r.Found {
			o.metrics.ObserveLookup(metrics.LookupMiss)
			missing = append(missing, r.Key)
			continue
		}
		var value T
		if err := json.Unmarshal(r.Value, &value); err != nil {
			o.metrics.ObserveLookup(metrics.LookupDecodeError)
			missing = append(missing, r.Key)
			continue
		}
		o.metrics.ObserveLookup(metrics.LookupHit)
		found[r.Key] = value
	}
	return found, missing
}

// StoreMany writes values in one pipelined round trip under a shared ttl.
// Unencodable and null values are skipped.
func StoreMany[T any](ctx context.Context, o *Orchestrator, values map[string]T, d time.Duration) bool {
	d = o.effectiveTTL(d)
	entries := make([]store.Entry, 0, len(values))
	for key, value := range values {
		raw, err := json.Marshal(value)
		if err != nil || string(raw) == "null" {
			continue
		}
		entries = append(entries, store.Entry{Key: key, Value: raw, TTL: d})
	}
	return o.store.PipelineSet(ctx, entries)
}
