// Package metrics publishes Prometheus metrics for the cache subsystem.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promptcache"

// StoreResult captures the outcome of a single store command.
type StoreResult string

const (
	// StoreHit indicates a read found a value.
	StoreHit StoreResult = "hit"
	// StoreMiss indicates a read found nothing.
	StoreMiss StoreResult = "miss"
	// StoreOK indicates a write or delete was applied.
	StoreOK StoreResult = "ok"
	// StoreError indicates the command failed and the caller failed open.
	StoreError StoreResult = "error"
)

// LookupResult captures how the cache-aside orchestrator served a read.
type LookupResult string

const (
	LookupHit         LookupResult = "hit"
	LookupMiss        LookupResult = "miss"
	LookupBypass      LookupResult = "bypass"
	LookupRefresh     LookupResult = "refresh"
	LookupDecodeError LookupResult = "decode_error"
	LookupCoalesced   LookupResult = "coalesced"
)

// Recorder publishes Prometheus metrics for cache activity. A nil Recorder is
// valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	storeOps      *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	lookups       *prometheus.CounterVec
	fills         *prometheus.CounterVec
	purges        *prometheus.CounterVec
	purgedKeys    *prometheus.CounterVec
	rateDecisions *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	storeOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Cache store commands by backend, operation and result.",
	}, []string{"backend", "operation", "result"})

	storeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache store commands.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"backend", "operation"})

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cacheaside",
		Name:      "lookups_total",
		Help:      "Cache-aside reads by result.",
	}, []string{"result"})

	fills := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cacheaside",
		Name:      "fills_total",
		Help:      "Background cache fills by result.",
	}, []string{"result"})

	purges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invalidation",
		Name:      "targets_total",
		Help:      "Invalidation targets (keys and patterns) by entity kind, target type and result.",
	}, []string{"kind", "target", "result"})

	purgedKeys := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invalidation",
		Name:      "purged_keys_total",
		Help:      "Keys removed by pattern purges, by entity kind.",
	}, []string{"kind"})

	rateDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by action and result.",
	}, []string{"action", "result"})

	reg.MustRegister(storeOps, storeLatency, lookups, fills, purges, purgedKeys, rateDecisions)

	return &Recorder{
		gatherer:      reg,
		handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		storeOps:      storeOps,
		storeLatency:  storeLatency,
		lookups:       lookups,
		fills:         fills,
		purges:        purges,
		purgedKeys:    purgedKeys,
		rateDecisions: rateDecisions,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveStore records a store command.
func (r *Recorder) ObserveStore(backend, operation string, result StoreResult, duration time.Duration) {
	if r == nil {
		return
	}
	backend = normalizeLabel(backend)
	operation = normalizeLabel(operation)
	r.storeOps.WithLabelValues(backend, operation, normalizeLabel(string(result))).Inc()
	r.storeLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// ObserveLookup records how a cache-aside read was served.
func (r *Recorder) ObserveLookup(result LookupResult) {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues(normalizeLabel(string(result))).Inc()
}

// ObserveFill records the outcome of a background cache fill.
func (r *Recorder) ObserveFill(ok bool) {
	if r == nil {
		return
	}
	r.fills.WithLabelValues(okLabel(ok)).Inc()
}

// ObserveInvalidation records one invalidation target.
func (r *Recorder) ObserveInvalidation(kind, target string, ok bool, purged int64) {
	if r == nil {
		return
	}
	kind = normalizeLabel(kind)
	r.purges.WithLabelValues(kind, normalizeLabel(target), okLabel(ok)).Inc()
	if purged > 0 {
		r.purgedKeys.WithLabelValues(kind).Add(float64(purged))
	}
}

// ObserveRateLimit records a rate limit decision. failOpen marks decisions
// allowed only because the store was unavailable.
func (r *Recorder) ObserveRateLimit(action string, allowed, failOpen bool) {
	if r == nil {
		return
	}
	result := "denied"
	switch {
	case failOpen:
		result = "fail_open"
	case allowed:
		result = "allowed"
	}
	r.rateDecisions.WithLabelValues(normalizeLabel(action), result).Inc()
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
