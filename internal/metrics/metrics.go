// Package metrics exposes Prometheus instrumentation for the HTTP surface and the domain services.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/agora-labs/agora/internal/notes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agora"

// Recorder owns a private registry so several servers can coexist in one process.
type Recorder struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	rateLimited     *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	noteEvents      *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		activeRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_requests",
				Help:      "Number of in-flight HTTP requests",
			},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Requests rejected by a rate limiter",
			},
			[]string{"scope"},
		),
		authFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected API key checks by reason",
			},
			[]string{"reason"},
		),
		noteEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "note_events_total",
				Help:      "Committed note mutations by type",
			},
			[]string{"type"},
		),
	}
}

// Middleware records count, latency and in-flight gauge per route template.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		r.activeRequests.Inc()
		defer r.activeRequests.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		r.requests.WithLabelValues(c.Request.Method, path, status).Inc()
		r.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the exposition format for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) RateLimited(scope string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(scope).Inc()
}

func (r *Recorder) AuthFailure(reason string) {
	if r == nil {
		return
	}
	r.authFailures.WithLabelValues(reason).Inc()
}

// PublishNoteEvent counts committed note mutations.
func (r *Recorder) PublishNoteEvent(event notes.Event) {
	if r == nil {
		return
	}
	r.noteEvents.WithLabelValues(string(event.Type)).Inc()
}

// ObserveDatabase exports connection pool statistics for db.
func (r *Recorder) ObserveDatabase(db *sql.DB, name string) error {
	if r == nil || db == nil {
		return nil
	}
	return r.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// Registry exposes the underlying registry for tests and custom collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
