package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all event-logger Prometheus metrics.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	ConnectionAttempts *prometheus.CounterVec
	RetriesTotal       *prometheus.CounterVec
	BackoffSeconds     prometheus.Histogram
	StreamState        prometheus.Gauge
	DeliveryDuration   *prometheus.HistogramVec
	SinkDeliveryErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all event-logger metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "event_logger_events_total",
			Help: "Total events received from the stream.",
		}, []string{"status"}),

		ConnectionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "event_logger_connection_attempts_total",
			Help: "Subscription attempts by result.",
		}, []string{"result"}),

		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "event_logger_retries_total",
			Help: "Retries scheduled after a failure, by failure reason.",
		}, []string{"reason"}),

		BackoffSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "event_logger_backoff_seconds",
			Help:    "Delay waited before each retry.",
			Buckets: []float64{0.5, 0.75, 1, 2, 5, 10, 20, 30},
		}),

		StreamState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "event_logger_stream_state",
			Help: "Current runner state: 0 connecting, 1 streaming.",
		}),

		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_logger_delivery_duration_seconds",
			Help:    "Time spent delivering one event to the sink.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		SinkDeliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "event_logger_sink_delivery_errors_total",
			Help: "Sink delivery failures.",
		}, []string{"sink"}),
	}
}
