// Package metrics exposes dashboard counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockadmin/internal/table"
)

const namespace = "stockadmin"

var _ table.Recorder = (*Metrics)(nil)

type Metrics struct {
	registry *prometheus.Registry

	userWrites   *prometheus.CounterVec
	snapshots    *prometheus.CounterVec
	pulses       prometheus.Counter
	liveClients  prometheus.Gauge
	sessions     prometheus.GaugeFunc
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	changeEvents *prometheus.CounterVec
}

// New registers every collector on a private registry. sessionCount may be
// nil.
func New(sessionCount func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		userWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_writes_total",
			Help:      "Partial user updates by written fields and outcome.",
		}, []string{"fields", "outcome"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_received_total",
			Help:      "Collection snapshots received from the store.",
		}, []string{"collection"}),
		pulses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "highlight_pulses_total",
			Help:      "Row highlight pulses started.",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected websocket clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "User change events by direction and outcome.",
		}, []string{"direction", "outcome"}),
	}
	if sessionCount != nil {
		m.sessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live table sessions.",
		}, func() float64 { return float64(sessionCount()) })
		reg.MustRegister(m.sessions)
	}

	reg.MustRegister(
		m.userWrites, m.snapshots, m.pulses, m.liveClients,
		m.httpRequests, m.httpDuration, m.changeEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// HighlightPulsed implements table.Recorder.
func (m *Metrics) HighlightPulsed() {
	m.pulses.Inc()
}

// UserWritten implements table.Recorder.
func (m *Metrics) UserWritten(fields []string, err error) {
	m.userWrites.WithLabelValues(strings.Join(fields, ","), outcome(err)).Inc()
}

func (m *Metrics) SnapshotReceived(collection string) {
	m.snapshots.WithLabelValues(collection).Inc()
}

func (m *Metrics) LiveClientConnected()    { m.liveClients.Inc() }
func (m *Metrics) LiveClientDisconnected() { m.liveClients.Dec() }

// ChangeEvent counts published ("out") and consumed ("in") change events.
func (m *Metrics) ChangeEvent(direction string, err error) {
	m.changeEvents.WithLabelValues(direction, outcome(err)).Inc()
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
