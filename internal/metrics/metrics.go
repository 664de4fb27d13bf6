// Package metrics — prometheus-метрики сервиса записей.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	mutations       *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter
	subscribers     prometheus.Gauge
}

// New создаёт метрики на собственном реестре (в тестах не пересекаются с глобальным).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recordhub",
			Name:      "record_mutations_total",
			Help:      "Record create/update attempts by entity type, action and result.",
		}, []string{"entity_type", "action", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recordhub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recordhub",
			Name:      "events_published_total",
			Help:      "Events handed to the notifier.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recordhub",
			Name:      "events_dropped_total",
			Help:      "Per-subscriber deliveries dropped because the queue was full.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "recordhub",
			Name:      "event_subscribers",
			Help:      "Currently connected event stream subscribers.",
		}),
	}
	reg.MustRegister(
		m.mutations, m.httpDuration, m.eventsPublished, m.eventsDropped, m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveMutation(entityType, action, result string) {
	m.mutations.WithLabelValues(entityType, action, result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// events.Observer

func (m *Metrics) EventPublished()          { m.eventsPublished.Inc() }
func (m *Metrics) EventDropped()            { m.eventsDropped.Inc() }
func (m *Metrics) SubscribersChanged(n int) { m.subscribers.Set(float64(n)) }
