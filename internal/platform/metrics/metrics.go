package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	BillsCreatedTotal    prometheus.Counter
	BillTransitionsTotal *prometheus.CounterVec
	AnalysesTotal        *prometheus.CounterVec
	PotentialSavings     prometheus.Histogram
	DocumentsTotal       *prometheus.CounterVec
	ChatMessagesTotal    *prometheus.CounterVec
	AchievementsEarned   prometheus.Counter

	EventsPublished *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers all collectors on reg. A nil reg gets a fresh
// registry with the Go and process collectors attached.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Collector{
		gatherer: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		BillsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "bills_created_total",
			Help:      "Total medical bills uploaded.",
		}),

		BillTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "bill_transitions_total",
			Help:      "Bill status transitions by target status.",
		}, []string{"status"}),

		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "analyses_total",
			Help:      "Bill analyses by outcome.",
		}, []string{"outcome"}),

		PotentialSavings: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "potential_savings_dollars",
			Help:      "Potential savings found per analysis.",
			Buckets:   []float64{0, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),

		DocumentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "documents_total",
			Help:      "Generated document transitions by status.",
		}, []string{"status"}),

		ChatMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages stored by role.",
		}, []string{"role"}),

		AchievementsEarned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "achievements_earned_total",
			Help:      "Achievements awarded to users.",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events by type and result (ok, error, dropped). Alert on error and dropped.",
		}, []string{"type", "result"}),
	}
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
