package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/kafka"
	"github.com/lsm/eventlogger/internal/sink"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// publisher abstracts the kafka publisher for testing.
type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// Config holds Kafka sink configuration.
type Config struct {
	Cluster     kafka.ClusterConfig `yaml:"cluster"`
	Topic       string              `yaml:"topic"`
	CreateTopic *kafka.TopicSpec    `yaml:"createTopic,omitempty"`
}

// Sink delivers events to a Kafka topic, keyed by correlation ID.
type Sink struct {
	publisher publisher
	prepare   *sink.Prepare
	topic     string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewSink creates a Kafka sink. Brokers are not contacted until the first
// delivery. When cfg.CreateTopic is set that delivery creates the topic if it
// is missing.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	pub, err := kafka.NewPublisher(&cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	s := newSink(pub, cfg.Topic, logger)
	if spec := cfg.CreateTopic; spec != nil {
		cluster := cfg.Cluster
		s.prepare = sink.NewPrepare(func(ctx context.Context) error {
			return kafka.EnsureTopic(ctx, &cluster, cfg.Topic, *spec)
		})
	}
	return s, nil
}

func newSink(pub publisher, topic string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		publisher: pub,
		prepare:   sink.NewPrepare(nil),
		topic:     topic,
		logger:    logger,
		tracer:    noop.NewTracerProvider().Tracer("kafka-sink"),
	}
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// Deliver publishes the event to the configured topic.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()
	corrID := correlation.ExtractOrGenerate(headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanKafkaPublish,
		trace.WithAttributes(
			tracing.KafkaTopicAttr(s.topic),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	headers = correlation.InjectTraceContext(ctx, headers)
	key := []byte(corrID.Value)

	err := s.prepare.Ensure(ctx)
	if err == nil {
		err = s.publisher.Publish(ctx, s.topic, key, event, headers)
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed",
			"correlation_id", corrID.Value,
			"target", s.topic,
			"error", err,
		)
		return err
	}

	tracing.SetSpanOK(span)
	s.logger.Info("event delivered",
		"correlation_id", corrID.Value,
		"target", s.topic,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close shuts down the Kafka publisher.
func (s *Sink) Close() error {
	return s.publisher.Close()
}
