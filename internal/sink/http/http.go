package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lsm/eventlogger/internal/backoff"
	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds the configuration for an HTTP sink.
type Config struct {
	URL         string              `yaml:"url"`
	Method      string              `yaml:"method,omitempty"`
	ContentType string              `yaml:"contentType,omitempty"`
	Headers     map[string]string   `yaml:"headers,omitempty"`
	Timeout     time.Duration       `yaml:"timeout,omitempty"`
	Retry       backoff.RetryConfig `yaml:"retry,omitempty"`
}

// Sink delivers events to an HTTP endpoint.
type Sink struct {
	client *http.Client
	config Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewSink creates a new HTTP sink.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/octet-stream"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = backoff.DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		config: cfg,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("http-sink"),
	}, nil
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// Deliver sends the event payload to the configured endpoint. Transport
// failures, 5xx and 429 responses are retried; other 4xx responses are not.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()
	corrID := correlation.ExtractOrGenerate(headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanHTTPDeliver,
		trace.WithAttributes(
			tracing.HTTPTargetAttr(s.config.URL),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	attempts := 0
	err := backoff.Do(ctx, s.config.Retry, func() error {
		attempts++
		return s.doRequest(ctx, event, headers)
	}, func(err error, delay time.Duration) {
		s.logger.Warn("http delivery retry",
			"correlation_id", corrID.Value,
			"target", s.config.URL,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed",
			"correlation_id", corrID.Value,
			"target", s.config.URL,
			"attempts", attempts,
			"error", err,
		)
		if backoff.IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("delivery failed after %d attempts: %w", attempts, err)
	}

	tracing.SetSpanOK(span)
	s.logger.Info("event delivered",
		"correlation_id", corrID.Value,
		"target", s.config.URL,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close releases resources held by the sink.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Sink) doRequest(ctx context.Context, event []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, s.config.Method, s.config.URL, bytes.NewReader(event))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", s.config.ContentType)
	// Static headers first so per-event headers can override them.
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range correlation.InjectTraceContext(ctx, nil) {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{Code: resp.StatusCode}
	if statusErr.permanent() {
		return backoff.Permanent(statusErr)
	}
	return statusErr
}

// StatusError represents an HTTP response with a non-2xx status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// permanent is true for client errors (4xx) except 429 Too Many Requests.
func (e *StatusError) permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}
