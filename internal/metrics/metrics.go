// Package metrics exposes Prometheus collectors for tree execution and the
// fleet controller. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "treefleet"

type Metrics struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	tickErrors   *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	instances    prometheus.Gauge
	commands     *prometheus.CounterVec

	heartbeats   prometheus.Counter
	watchClients prometheus.Gauge
}

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_ticks_total",
				Help:      "Tree instance ticks by definition and result.",
			},
			[]string{"tree", "status"},
		),
		tickErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_tick_errors_total",
				Help:      "Ticks aborted by a node error.",
			},
			[]string{"tree"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tree_tick_duration_seconds",
				Help:      "Wall time of one tree instance tick.",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"tree"},
		),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_instances",
			Help:      "Tree instances registered with the runner.",
		}),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_commands_total",
				Help:      "Commands handled by the agent.",
			},
			[]string{"type", "result"},
		),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_heartbeats_total",
			Help:      "Agent status heartbeats received by the controller.",
		}),
		watchClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_watch_clients",
			Help:      "Connected live watch clients.",
		}),
	}
	registry.MustRegister(
		m.ticks, m.tickErrors, m.tickDuration, m.instances, m.commands,
		m.heartbeats, m.watchClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTick records the outcome of one instance tick. A non-nil err
// counts as an error regardless of status.
func (m *Metrics) ObserveTick(tree, status string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(tree).Observe(d.Seconds())
	if err != nil {
		m.tickErrors.WithLabelValues(tree).Inc()
		return
	}
	m.ticks.WithLabelValues(tree, status).Inc()
}

func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.instances.Set(float64(n))
}

func (m *Metrics) RecordCommand(typ string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) WatchClientConnected() {
	if m == nil {
		return
	}
	m.watchClients.Inc()
}

func (m *Metrics) WatchClientDisconnected() {
	if m == nil {
		return
	}
	m.watchClients.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
