// Package log is a sink that writes every event to the structured log.
package log

import (
	"context"
	"log/slog"

	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/observability"
	"github.com/lsm/eventlogger/internal/sink"
)

// Config holds log sink configuration.
type Config struct {
	// Level is the level events are logged at. Defaults to info so events
	// show up under the default log level.
	Level string `yaml:"level,omitempty"`
}

// Sink logs events at the configured level. Delivery never fails.
type Sink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSink returns a sink logging to logger.
func NewSink(cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger, level: observability.ParseLogLevel(cfg.Level)}
}

func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	s.logger.Log(ctx, s.level, "event received",
		"correlation_id", correlation.ExtractOrGenerate(headers).Value,
		"sequence", sink.Sequence(headers),
		"size", len(event),
		"payload", event,
	)
	return nil
}

func (s *Sink) Close() error { return nil }
