// Package blob writes each event as an object into a gocloud.dev bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/sink"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gocloud.dev/blob"

	// Bucket URL schemes supported by Open.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Config holds blob sink configuration.
type Config struct {
	// URL of the bucket, e.g. file:///var/lib/events, mem://, s3://bucket?region=eu-west-1.
	URL         string `yaml:"url"`
	Prefix      string `yaml:"prefix,omitempty"`
	ContentType string `yaml:"contentType,omitempty"`
}

// Sink writes one object per event. Keys are laid out by receive date so
// a listing returns events in arrival order:
//
//	<prefix>/2006/01/02/<received unix nanos>-<sequence>-<correlation id>
type Sink struct {
	bucket      *blob.Bucket
	prefix      string
	contentType string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Open opens the bucket at cfg.URL.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("bucket url is required")
	}
	bucket, err := blob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return NewSink(bucket, cfg, logger), nil
}

// NewSink returns a sink writing into bucket. The sink owns the bucket.
func NewSink(bucket *blob.Bucket, cfg Config, logger *slog.Logger) *Sink {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/octet-stream"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		bucket:      bucket,
		prefix:      cfg.Prefix,
		contentType: cfg.ContentType,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("blob-sink"),
	}
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// Deliver writes the event. Headers are stored as object metadata.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()
	corrID := correlation.ExtractOrGenerate(headers)
	key := s.key(sink.ReceivedAt(headers), sink.Sequence(headers), corrID.Value)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanBlobWrite,
		trace.WithAttributes(
			tracing.BlobKeyAttr(key),
			tracing.PayloadSizeAttr(len(event)),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	err := s.bucket.WriteAll(ctx, key, event, &blob.WriterOptions{
		ContentType: s.contentType,
		Metadata:    headers,
	})
	if err != nil {
		err = fmt.Errorf("write %s: %w", key, err)
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed",
			"correlation_id", corrID.Value,
			"target", key,
			"error", err,
		)
		return err
	}

	tracing.SetSpanOK(span)
	s.logger.Debug("event delivered",
		"correlation_id", corrID.Value,
		"target", key,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close releases the bucket.
func (s *Sink) Close() error {
	return s.bucket.Close()
}

func (s *Sink) key(at time.Time, seq uint64, corrID string) string {
	at = at.UTC()
	name := fmt.Sprintf("%019d-%010d-%s", at.UnixNano(), seq, corrID)
	return path.Join(s.prefix, at.Format("2006/01/02"), name)
}
