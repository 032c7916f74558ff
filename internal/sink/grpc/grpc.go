package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/grpccodec"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// DefaultMethod is the unary method events are forwarded to.
const DefaultMethod = "/eventlogger.v1.EventSink/Deliver"

// Config holds gRPC sink configuration.
type Config struct {
	Address string        `yaml:"address"`
	Method  string        `yaml:"method,omitempty"`
	TLS     bool          `yaml:"tls,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// DialOptions are appended to the sink's own options.
	DialOptions []grpc.DialOption `yaml:"-"`
}

// Sink forwards each event as the raw request body of a unary call. Event
// headers travel as outgoing metadata.
type Sink struct {
	conn    *grpc.ClientConn
	method  string
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewSink creates a new gRPC sink. The connection is established lazily.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Address == "" {
		return nil, errors.New("gRPC address is required")
	}
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	return &Sink{
		conn:    conn,
		method:  cfg.Method,
		timeout: cfg.Timeout,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("grpc-sink"),
	}, nil
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// Deliver invokes the configured method with the event as request payload.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()
	corrID := correlation.ExtractOrGenerate(headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanGRPCDeliver,
		trace.WithAttributes(
			tracing.GRPCMethodAttr(s.method),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	md := metadata.New(headers)
	for k, v := range correlation.InjectTraceContext(ctx, nil) {
		md.Set(k, v)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	var resp []byte
	if err := s.conn.Invoke(ctx, s.method, event, &resp, grpc.ForceCodec(grpccodec.Raw{})); err != nil {
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed",
			"correlation_id", corrID.Value,
			"target", s.conn.Target(),
			"error", err,
		)
		return fmt.Errorf("grpc deliver: %w", err)
	}

	tracing.SetSpanOK(span)
	s.logger.Info("event delivered",
		"correlation_id", corrID.Value,
		"target", s.conn.Target(),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close closes the gRPC connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}
