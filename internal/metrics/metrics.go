// Package metrics holds the Prometheus collectors for the allocator and the
// HTTP surface. Collectors live on a private registry so several servers can
// run in one process (tests do).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketdesk"

type Metrics struct {
	Registry *prometheus.Registry

	TicketsClaimed     prometheus.Counter
	ClaimRetries       *prometheus.CounterVec
	ContentionFailures *prometheus.CounterVec
	Sales              prometheus.Counter
	FetchDuration      prometheus.Histogram
	Requests           *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TicketsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_claimed_total",
			Help:      "Tickets assigned to agents by worklist fetches.",
		}),
		ClaimRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocator_retries_total",
			Help:      "Allocator attempts repeated after a transient store error.",
		}, []string{"op"}),
		ContentionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocator_contention_failures_total",
			Help:      "Allocator operations that ran out of retry budget.",
		}, []string{"op"}),
		Sales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_sold_total",
			Help:      "Completed sales.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worklist_fetch_duration_seconds",
			Help:      "Latency of worklist fetches including retries.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		m.TicketsClaimed,
		m.ClaimRetries,
		m.ContentionFailures,
		m.Sales,
		m.FetchDuration,
		m.Requests,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveFetch records the duration of a worklist fetch that started at start.
// A nil receiver is a no-op so callers need no metrics in tests.
func (m *Metrics) ObserveFetch(start time.Time) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) Claimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TicketsClaimed.Add(float64(n))
}

func (m *Metrics) Retried(op string) {
	if m == nil {
		return
	}
	m.ClaimRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) Contention(op string) {
	if m == nil {
		return
	}
	m.ContentionFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Sold() {
	if m == nil {
		return
	}
	m.Sales.Inc()
}

func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
