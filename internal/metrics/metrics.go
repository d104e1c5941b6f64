// Package metrics provides Prometheus metrics for the workflow engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	TransitionsTotal  *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	AutoStartsTotal   prometheus.Counter
	NotificationsSent *prometheus.CounterVec
	TasksOpen         prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stageflow_transitions_total",
				Help: "Total workflow operations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stageflow_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		AutoStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stageflow_auto_starts_total",
				Help: "Total tasks automatically started by the scheduler.",
			},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stageflow_notifications_sent_total",
				Help: "Total webhook notifications by outcome.",
			},
			[]string{"outcome"},
		),
		TasksOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stageflow_tasks_open",
				Help: "Number of tasks not yet effectively complete.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.AutoStartsTotal)
	reg.MustRegister(m.NotificationsSent)
	reg.MustRegister(m.TasksOpen)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition increments the operation counter.
func (m *Metrics) RecordTransition(operation, result string) {
	m.TransitionsTotal.WithLabelValues(operation, result).Inc()
}

// RecordAutoStart increments the auto-start counter.
func (m *Metrics) RecordAutoStart() {
	m.AutoStartsTotal.Inc()
}

// RecordNotification increments the notification counter.
func (m *Metrics) RecordNotification(outcome string) {
	m.NotificationsSent.WithLabelValues(outcome).Inc()
}

// ObserveDuration records request duration for a route.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// SetOpenTasks sets the open-task gauge.
func (m *Metrics) SetOpenTasks(count float64) {
	m.TasksOpen.Set(count)
}
