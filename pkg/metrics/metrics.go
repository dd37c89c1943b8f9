// Package metrics defines the Prometheus collectors for the index engine and
// its read surface, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	PostingsLookupsTotal    *prometheus.CounterVec
	PostingsLookupLatency   prometheus.Histogram
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	DocsIndexedTotal        prometheus.Counter
	TokensInsertedTotal     prometheus.Counter
	FlushesTotal            *prometheus.CounterVec
	FlushDuration           prometheus.Histogram
	PendingSegments         prometheus.Gauge
	CompactionsTotal        *prometheus.CounterVec
	CompactionPhaseDuration *prometheus.HistogramVec
	SwapRetriesTotal        prometheus.Counter
	SlotCollisionsTotal     *prometheus.CounterVec
	BaseSegmentTerms        prometheus.Gauge
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PostingsLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_postings_lookups_total",
				Help: "Postings lookups by result (found, absent, error).",
			},
			[]string{"result"},
		),
		PostingsLookupLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_postings_lookup_seconds",
				Help:    "Latency of a postings lookup across buffer and segments.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of postings cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of postings cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		TokensInsertedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_tokens_inserted_total",
				Help: "Total token occurrences inserted into the batch buffer.",
			},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Batch flushes by target (base, pending) and status.",
			},
			[]string{"target", "status"},
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_flush_duration_seconds",
				Help:    "Time to write one batch to disk.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		PendingSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_pending_segments",
				Help: "Flushed segments waiting to be compacted into the base.",
			},
		),
		CompactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_compactions_total",
				Help: "Compaction passes by status.",
			},
			[]string{"status"},
		),
		CompactionPhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_compaction_phase_seconds",
				Help:    "Duration of each compaction phase.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"phase"},
		),
		SwapRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_swap_retries_total",
				Help: "Failed rename attempts while swapping in a new base segment.",
			},
		),
		SlotCollisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_slot_collisions_total",
				Help: "Dictionary slot collisions by stage (flush, compaction).",
			},
			[]string{"stage"},
		),
		BaseSegmentTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_base_segment_terms",
				Help: "Distinct tokens in the base segment after the last swap.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PostingsLookupsTotal,
		m.PostingsLookupLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.TokensInsertedTotal,
		m.FlushesTotal,
		m.FlushDuration,
		m.PendingSegments,
		m.CompactionsTotal,
		m.CompactionPhaseDuration,
		m.SwapRetriesTotal,
		m.SlotCollisionsTotal,
		m.BaseSegmentTerms,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveHTTP records one finished request. route must be low-cardinality.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackInFlight bumps the in-flight gauge; call the result when done.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPRequestsInFlight.Inc()
	return m.HTTPRequestsInFlight.Dec
}

func (m *Metrics) ObserveFlush(target string, d time.Duration, collisions int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FlushesTotal.WithLabelValues(target, status).Inc()
	if err == nil {
		m.FlushDuration.Observe(d.Seconds())
		m.SlotCollisionsTotal.WithLabelValues("flush").Add(float64(collisions))
	}
}

func (m *Metrics) ObserveLookup(found bool, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "absent"
	switch {
	case err != nil:
		result = "error"
	case found:
		result = "found"
	}
	m.PostingsLookupsTotal.WithLabelValues(result).Inc()
	m.PostingsLookupLatency.Observe(d.Seconds())
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompactionPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) ObserveCompaction(collisions int, terms int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CompactionsTotal.WithLabelValues("error").Inc()
		return
	}
	m.CompactionsTotal.WithLabelValues("ok").Inc()
	m.SlotCollisionsTotal.WithLabelValues("compaction").Add(float64(collisions))
	m.BaseSegmentTerms.Set(float64(terms))
}

func (m *Metrics) SetPending(n int64) {
	if m == nil {
		return
	}
	m.PendingSegments.Set(float64(n))
}

func (m *Metrics) SwapRetry() {
	if m == nil {
		return
	}
	m.SwapRetriesTotal.Inc()
}

func (m *Metrics) DocIndexed(tokens int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
	m.TokensInsertedTotal.Add(float64(tokens))
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
