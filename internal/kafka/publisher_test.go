package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
)

type mockProducer struct {
	results kgo.ProduceResults
	records []*kgo.Record
	closed  bool
}

func (m *mockProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	m.records = append(m.records, rs...)
	return m.results
}

func (m *mockProducer) Close() {
	m.closed = true
}

func TestNewPublisher_NilCluster(t *testing.T) {
	if _, err := NewPublisher(nil); err == nil {
		t.Fatal("expected error for nil cluster")
	}
}

func TestNewPublisher_InvalidCluster(t *testing.T) {
	if _, err := NewPublisher(&ClusterConfig{}); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestNewPublisher_ValidConfig(t *testing.T) {
	// kgo connects lazily; no broker is needed to construct the client.
	pub, err := NewPublisher(&ClusterConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
}

func TestPublisher_Publish_Success(t *testing.T) {
	mp := &mockProducer{results: kgo.ProduceResults{{Record: &kgo.Record{}}}}
	pub := &Publisher{client: mp}

	err := pub.Publish(context.Background(), "mission-events", []byte("42"), []byte("payload"), map[string]string{
		"event-correlation-id": "abc",
		"x-sequence":           "42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mp.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(mp.records))
	}
	rec := mp.records[0]
	if rec.Topic != "mission-events" {
		t.Errorf("topic = %q", rec.Topic)
	}
	if string(rec.Key) != "42" || string(rec.Value) != "payload" {
		t.Errorf("key/value = %q/%q", rec.Key, rec.Value)
	}
	if len(rec.Headers) != 2 {
		t.Errorf("expected 2 headers, got %d", len(rec.Headers))
	}
}

func TestPublisher_Publish_Error(t *testing.T) {
	mp := &mockProducer{results: kgo.ProduceResults{{Record: &kgo.Record{}, Err: errors.New("broker unavailable")}}}
	pub := &Publisher{client: mp}

	err := pub.Publish(context.Background(), "t", nil, []byte("v"), nil)
	if err == nil || err.Error() != "kafka publish: broker unavailable" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublisher_Close(t *testing.T) {
	mp := &mockProducer{}
	pub := &Publisher{client: mp}
	if err := pub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mp.closed {
		t.Error("expected producer to be closed")
	}
}
