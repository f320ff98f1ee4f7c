// Package metrics exposes MediBot's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medibot"

// Generation outcomes used as the "result" label.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultTransient = "transient"
	ResultFatal     = "fatal"
	ResultCanceled  = "canceled"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// which keeps tests and the CLI free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	indexBuilds        *prometheus.CounterVec
	indexBuildDuration prometheus.Histogram
	indexEntries       prometheus.Gauge
	droppedChunks      prometheus.Counter
	retrievalDuration  prometheus.Histogram
	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	emergencies        prometheus.Counter
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		indexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_builds_total",
			Help: "Vector index builds by result.",
		}, []string{"result"}),
		indexBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "index_build_duration_seconds",
			Help:    "Time spent building the vector index.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		indexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "index_entries",
			Help: "Chunks in the serving vector index.",
		}),
		droppedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_dropped_chunks_total",
			Help: "Chunks skipped during builds because they could not be embedded.",
		}),
		retrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieval_duration_seconds",
			Help:    "Query embedding plus index search latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "generation_attempts_total",
			Help: "LLM generation attempts by result.",
		}, []string{"result"}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "generation_duration_seconds",
			Help:    "LLM generation latency per attempt.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		emergencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "emergency_questions_total",
			Help: "Questions matching emergency-symptom keywords.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.indexBuilds, m.indexBuildDuration, m.indexEntries, m.droppedChunks,
		m.retrievalDuration,
		m.generations, m.generationDuration,
		m.emergencies,
	)
	return m
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveIndexBuild(err error, d time.Duration, entries, dropped int) {
	if m == nil {
		return
	}
	m.indexBuildDuration.Observe(d.Seconds())
	m.droppedChunks.Add(float64(dropped))
	if err != nil {
		m.indexBuilds.WithLabelValues(ResultError).Inc()
		return
	}
	m.indexBuilds.WithLabelValues(ResultOK).Inc()
	m.indexEntries.Set(float64(entries))
}

// SetIndexEntries records the size of an index loaded from disk.
func (m *Metrics) SetIndexEntries(n int) {
	if m == nil {
		return
	}
	m.indexEntries.Set(float64(n))
}

func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveGeneration(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(result).Inc()
	m.generationDuration.Observe(d.Seconds())
}

func (m *Metrics) IncEmergency() {
	if m == nil {
		return
	}
	m.emergencies.Inc()
}
