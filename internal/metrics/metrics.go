// Package metrics exposes Prometheus collectors for the tracker and the
// setup flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagewatch"

// Metrics holds every collector on a private registry so tests can create
// as many instances as they like.
type Metrics struct {
	reg *prometheus.Registry

	Ticks         prometheus.Counter
	TickDuration  prometheus.Histogram
	GroupResults  *prometheus.CounterVec
	PageEvents    *prometheus.CounterVec
	FieldFailures prometheus.Counter
	Deliveries    *prometheus.CounterVec
	GateDecisions *prometheus.CounterVec
	Actions       *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_ticks_total",
			Help:      "Number of tracker passes started",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tracker_tick_duration_seconds",
			Help:      "Duration of a full tracker pass",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		GroupResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_groups_total",
			Help:      "Database groups processed, by outcome",
		}, []string{"result"}),
		PageEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_page_events_total",
			Help:      "Pages reported as added, removed or changed",
		}, []string{"kind"}),
		FieldFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_field_failures_total",
			Help:      "Tracked fields that could not be compared",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries, by result",
		}, []string{"result"}),
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "setup_gate_decisions_total",
			Help:      "Setup gate outcomes for inbound actions",
		}, []string{"decision"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Inbound chat actions, by kind",
		}, []string{"kind"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
