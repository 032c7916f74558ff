package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// producer abstracts the kafka client methods used by Publisher for testing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher produces records synchronously to Kafka topics.
type Publisher struct {
	client producer
}

// NewPublisher creates a Kafka publisher for the cluster. SASL and TLS are
// configured from the cluster settings.
func NewPublisher(cluster *ClusterConfig) (*Publisher, error) {
	if cluster == nil {
		return nil, errors.New("cluster config is required")
	}
	if err := cluster.Validate(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}

	opts, err := ClientOptions(cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher client: %w", err)
	}

	return &Publisher{client: client}, nil
}

// Publish sends a single record and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and shuts down the underlying client.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
