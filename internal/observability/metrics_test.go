package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.EventsTotal == nil {
		t.Error("EventsTotal is nil")
	}
	if m.ConnectionAttempts == nil {
		t.Error("ConnectionAttempts is nil")
	}
	if m.RetriesTotal == nil {
		t.Error("RetriesTotal is nil")
	}
	if m.BackoffSeconds == nil {
		t.Error("BackoffSeconds is nil")
	}
	if m.StreamState == nil {
		t.Error("StreamState is nil")
	}
	if m.DeliveryDuration == nil {
		t.Error("DeliveryDuration is nil")
	}
	if m.SinkDeliveryErrors == nil {
		t.Error("SinkDeliveryErrors is nil")
	}
}

func TestMetrics_IncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsTotal.WithLabelValues("delivered").Inc()
	m.EventsTotal.WithLabelValues("failed").Inc()
	m.ConnectionAttempts.WithLabelValues("success").Inc()
	m.RetriesTotal.WithLabelValues("connection").Inc()
	m.BackoffSeconds.Observe(0.5)
	m.StreamState.Set(1)
	m.DeliveryDuration.WithLabelValues("sql").Observe(0.01)
	m.SinkDeliveryErrors.WithLabelValues("sql").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"event_logger_events_total",
		"event_logger_connection_attempts_total",
		"event_logger_retries_total",
		"event_logger_backoff_seconds",
		"event_logger_stream_state",
		"event_logger_delivery_duration_seconds",
		"event_logger_sink_delivery_errors_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("expected metric %s to be registered", name)
		}
	}

	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("connection")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamState); got != 1 {
		t.Errorf("expected stream state 1, got %v", got)
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}
