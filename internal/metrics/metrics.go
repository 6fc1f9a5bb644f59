// ABOUTME: Prometheus instruments for webhooks, relay, lifecycle and deletions
// ABOUTME: A nil *Metrics is valid and records nothing

// Package metrics exposes the bridge's Prometheus counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

// Metrics holds every instrument the bridge records.
type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests   *prometheus.CounterVec
	WebhookDuration   *prometheus.HistogramVec
	WebhookDuplicates *prometheus.CounterVec
	RelayEnvelopes    *prometheus.CounterVec
	RequestsOpened    *prometheus.CounterVec
	Deletions         *prometheus.CounterVec
}

// New creates the instruments and registers them on a fresh registry along
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		WebhookRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "requests_total",
				Help:      "Webhook deliveries by source and response status",
			},
			[]string{"source", "status"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "duration_seconds",
				Help:      "Webhook handling time",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		),
		WebhookDuplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "duplicates_total",
				Help:      "Deliveries acknowledged without processing because the id was already handled",
			},
			[]string{"source"},
		),
		RelayEnvelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "envelopes_total",
				Help:      "Relayed messages by direction, content kind and result",
			},
			[]string{"direction", "kind", "result"},
		),
		RequestsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "open_requests_total",
				Help:      "Support request open attempts by outcome",
			},
			[]string{"outcome"},
		),
		Deletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "deletions_total",
				Help:      "Scheduled room deletions by result (scheduled, fired, cancelled)",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.WebhookRequests,
		m.WebhookDuration,
		m.WebhookDuplicates,
		m.RelayEnvelopes,
		m.RequestsOpened,
		m.Deletions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackPending exposes the current number of pending deletions.
func (m *Metrics) TrackPending(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "pending_deletions",
			Help:      "Room deletions currently scheduled",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveWebhook(source string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(source, strconv.Itoa(status)).Inc()
	m.WebhookDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *Metrics) Duplicate(source string) {
	if m == nil {
		return
	}
	m.WebhookDuplicates.WithLabelValues(source).Inc()
}

func (m *Metrics) Relayed(direction, kind, result string) {
	if m == nil {
		return
	}
	m.RelayEnvelopes.WithLabelValues(direction, kind, result).Inc()
}

func (m *Metrics) Opened(outcome string) {
	if m == nil {
		return
	}
	m.RequestsOpened.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Deletion(result string) {
	if m == nil {
		return
	}
	m.Deletions.WithLabelValues(result).Inc()
}
