// Package metrics exposes dispatcher and HTTP activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/framewire/internal/dispatch"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	admitted        *prometheus.CounterVec
	written         *prometheus.CounterVec
	activeSessions  *prometheus.GaugeVec
	sessions        *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	responseTime    prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		admitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framewire_requests_admitted_total", Help: "requests admitted to a service"},
			[]string{"protocol"},
		),
		written: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framewire_responses_written_total", Help: "responses written to a transport"},
			[]string{"protocol"},
		),
		activeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "framewire_active_sessions", Help: "connections currently dispatched"},
			[]string{"protocol"},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framewire_sessions_total", Help: "finished sessions by outcome"},
			[]string{"protocol", "outcome"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framewire_session_duration_seconds",
				Help:    "session lifetime.",
				Buckets: []float64{0.1, 1, 10, 60, 600, 3600},
			},
			[]string{"protocol"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "framewire_http_requests_total", Help: "http requests by code, and method"},
			[]string{"code", "method"},
		),
		responseTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "framewire_http_response_time_seconds",
				Help:    "http response time.",
				Buckets: []float64{0.005, 0.05, 0.5, 1, 5},
			},
		),
	}

	reg.MustRegister(
		m.admitted,
		m.written,
		m.activeSessions,
		m.sessions,
		m.sessionDuration,
		m.httpRequests,
		m.responseTime,
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observer starts a session for protocol and returns the dispatcher observer
// that records it. The session counts as active until Finished is called.
func (m *Metrics) Observer(protocol string) dispatch.Observer {
	m.activeSessions.WithLabelValues(protocol).Inc()
	return &observer{
		m:        m,
		protocol: protocol,
		admitted: m.admitted.WithLabelValues(protocol),
		written:  m.written.WithLabelValues(protocol),
		started:  time.Now(),
	}
}

type observer struct {
	m        *Metrics
	protocol string
	admitted prometheus.Counter
	written  prometheus.Counter
	started  time.Time
}

func (o *observer) Admitted() { o.admitted.Inc() }
func (o *observer) Written()  { o.written.Inc() }

func (o *observer) Finished(err error) {
	o.m.activeSessions.WithLabelValues(o.protocol).Dec()
	o.m.sessions.WithLabelValues(o.protocol, dispatch.Outcome(err)).Inc()
	o.m.sessionDuration.WithLabelValues(o.protocol).Observe(time.Since(o.started).Seconds())
}

// Collect counts HTTP requests by status and method. Scrapes of /metrics are
// not counted.
func (m *Metrics) Collect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			if r.URL.Path == "/metrics" {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.httpRequests.WithLabelValues(strconv.Itoa(status), r.Method).Inc()
			m.responseTime.Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}
