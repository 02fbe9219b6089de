// Package metrics exposes federation counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fedi"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	inbound        *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	jobs           *prometheus.CounterVec
	followCleanups prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_activities_total",
			Help:      "Inbound activities by route and result.",
		}, []string{"route", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound inbox deliveries by outcome.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Queued jobs by name and outcome.",
		}, []string{"name", "outcome"}),
		followCleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_cleanups_total",
			Help:      "Follows rejected because the follower inbox is permanently unreachable.",
		}),
	}
	m.registry.MustRegister(
		m.inbound,
		m.deliveries,
		m.jobs,
		m.followCleanups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Inbound(route string, result string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(route, result).Inc()
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Job(name string, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) FollowCleanups(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.followCleanups.Add(float64(n))
}
