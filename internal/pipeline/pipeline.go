// Package pipeline turns received events into sink deliveries.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/observability"
	"github.com/lsm/eventlogger/internal/sink"
	"github.com/lsm/eventlogger/internal/source"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds pipeline configuration.
type Config struct {
	CloudEvents *CloudEventsConfig `yaml:"cloudEvents,omitempty"`
	RateLimit   RateLimitConfig    `yaml:"rateLimit,omitempty"`
}

// Pipeline tags each event with a correlation ID, sequence and receive time,
// optionally wraps it in a CloudEvents envelope and hands it to the sink.
// Delivery errors are returned to the caller unchanged.
type Pipeline struct {
	config   Config
	sink     sink.Sink
	kind     sink.Kind
	limiter  *Limiter
	envelope *envelope
	logger   *observability.TraceLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = observability.NewTraceLogger(logger) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tracer }
}

// New creates a pipeline delivering to sk. kind labels metrics and spans.
func New(cfg Config, sk sink.Sink, kind sink.Kind, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:  cfg,
		sink:    sk,
		kind:    kind,
		limiter: NewLimiter(cfg.RateLimit),
		logger:  observability.NewTraceLogger(slog.Default()),
		tracer:  noop.NewTracerProvider().Tracer("pipeline"),
	}
	if cfg.CloudEvents != nil && cfg.CloudEvents.Enabled {
		p.envelope = newEnvelope(*cfg.CloudEvents)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle delivers one event. It satisfies stream.Handler.
func (p *Pipeline) Handle(ctx context.Context, evt source.Event) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	headers := make(map[string]string, len(evt.Headers)+3)
	maps.Copy(headers, evt.Headers)
	ctx = correlation.ExtractTraceContext(ctx, headers)

	corrID := correlation.ExtractOrGenerate(headers)
	headers = correlation.AddToHeaders(headers, corrID)
	headers[sink.HeaderSequence] = strconv.FormatUint(evt.Sequence, 10)
	receivedAt := evt.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	headers[sink.HeaderReceivedAt] = receivedAt.UTC().Format(time.RFC3339Nano)

	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanDeliver,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			tracing.CorrelationAttr(corrID.Value),
			tracing.SequenceAttr(evt.Sequence),
			tracing.SinkTypeAttr(string(p.kind)),
			tracing.PayloadSizeAttr(len(evt.Value)),
		),
	)
	defer span.End()
	logger := p.logger.WithTraceContext(ctx)

	payload := evt.Value
	if p.envelope != nil {
		wrapped, err := p.envelope.wrap(corrID.Value, evt.Sequence, receivedAt, evt.Value)
		if err != nil {
			tracing.SetSpanError(span, err)
			p.count("failed")
			return err
		}
		payload = wrapped
		headers["content-type"] = contentTypeCloudEvents
	}

	start := time.Now()
	err := p.sink.Deliver(ctx, payload, headers)
	if p.metrics != nil {
		p.metrics.DeliveryDuration.WithLabelValues(string(p.kind)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		if p.metrics != nil && !errors.Is(err, context.Canceled) {
			p.metrics.SinkDeliveryErrors.WithLabelValues(string(p.kind)).Inc()
		}
		p.count("failed")
		logger.Error("event delivery failed",
			"correlation_id", corrID.Value,
			"sequence", evt.Sequence,
			"sink", p.kind,
			"error", err,
		)
		return err
	}

	tracing.SetSpanOK(span)
	p.count("delivered")
	logger.Debug("event handled",
		"correlation_id", corrID.Value,
		"sequence", evt.Sequence,
		"sink", p.kind,
	)
	return nil
}

// Shutdown closes the sink.
func (p *Pipeline) Shutdown() error {
	return p.sink.Close()
}

func (p *Pipeline) count(status string) {
	if p.metrics != nil {
		p.metrics.EventsTotal.WithLabelValues(status).Inc()
	}
}
