package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for ingestion, delivery and
// streaming. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngestedTotal  *prometheus.CounterVec
	AttemptsScheduled    prometheus.Counter
	DeliveryCallsTotal   *prometheus.CounterVec
	DeliveryDuration     prometheus.Histogram
	DeliveriesFinished   *prometheus.CounterVec
	DeliveriesInFlight   prometheus.Gauge
	ConcurrentViolations prometheus.Counter
	StreamClients        prometheus.Gauge
	StreamDisconnects    *prometheus.CounterVec
	LedgerEvictions      prometheus.Counter
}

// New creates and registers all collectors on registry. When registry is
// nil a fresh one is created.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whse_events_ingested_total",
				Help: "Total number of events ingested",
			},
			[]string{"event_type"},
		),
		AttemptsScheduled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "whse_delivery_attempts_scheduled_total",
				Help: "Total number of logical delivery attempts created",
			},
		),
		DeliveryCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whse_delivery_calls_total",
				Help: "Total number of outbound webhook HTTP calls",
			},
			[]string{"result"},
		),
		DeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "whse_delivery_call_duration_seconds",
				Help:    "Outbound webhook call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		DeliveriesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whse_deliveries_finished_total",
				Help: "Delivery attempts that reached a terminal state",
			},
			[]string{"state"},
		),
		DeliveriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whse_deliveries_in_flight",
				Help: "Number of webhook calls currently in flight",
			},
		),
		ConcurrentViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "whse_delivery_concurrent_violations_total",
				Help: "Times a second concurrent call for the same attempt was refused",
			},
		),
		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whse_stream_clients",
				Help: "Number of connected stream subscribers",
			},
		),
		StreamDisconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whse_stream_disconnects_total",
				Help: "Stream subscribers removed, by reason",
			},
			[]string{"reason"},
		),
		LedgerEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "whse_ledger_evictions_total",
				Help: "Delivery attempts evicted from the ledger by retention",
			},
		),
	}

	registry.MustRegister(
		m.EventsIngestedTotal,
		m.AttemptsScheduled,
		m.DeliveryCallsTotal,
		m.DeliveryDuration,
		m.DeliveriesFinished,
		m.DeliveriesInFlight,
		m.ConcurrentViolations,
		m.StreamClients,
		m.StreamDisconnects,
		m.LedgerEvictions,
	)

	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	m.EventsIngestedTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) AttemptScheduled() {
	if m == nil {
		return
	}
	m.AttemptsScheduled.Inc()
}

// CallStarted marks a webhook call in flight and returns a func that
// records its outcome.
func (m *Metrics) CallStarted() func(result string, elapsed time.Duration) {
	if m == nil {
		return func(string, time.Duration) {}
	}
	m.DeliveriesInFlight.Inc()
	return func(result string, elapsed time.Duration) {
		m.DeliveriesInFlight.Dec()
		m.DeliveryCallsTotal.WithLabelValues(result).Inc()
		m.DeliveryDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) DeliveryFinished(state string) {
	if m == nil {
		return
	}
	m.DeliveriesFinished.WithLabelValues(state).Inc()
}

func (m *Metrics) ConcurrentViolation() {
	if m == nil {
		return
	}
	m.ConcurrentViolations.Inc()
}

func (m *Metrics) StreamClientCount(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}

func (m *Metrics) StreamDisconnected(reason string) {
	if m == nil {
		return
	}
	m.StreamDisconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) LedgerEvicted() {
	if m == nil {
		return
	}
	m.LedgerEvictions.Inc()
}
