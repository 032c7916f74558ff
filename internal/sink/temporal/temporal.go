package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lsm/eventlogger/internal/correlation"
	"github.com/lsm/eventlogger/internal/sink"
	"github.com/lsm/eventlogger/internal/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// WorkflowClient abstracts the Temporal SDK client for testability.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options StartWorkflowOptions, workflow string, args ...interface{}) (WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	Close()
}

// StartWorkflowOptions mirrors the subset of client.StartWorkflowOptions the sink sets.
type StartWorkflowOptions struct {
	ID        string
	TaskQueue string
}

// WorkflowRun represents a started workflow execution.
type WorkflowRun interface {
	GetID() string
	GetRunID() string
}

// Mode determines how the sink interacts with Temporal.
type Mode string

const (
	ModeStart  Mode = "start"
	ModeSignal Mode = "signal"
)

// Config holds Temporal sink configuration.
type Config struct {
	HostPort     string `yaml:"hostPort,omitempty"`
	Namespace    string `yaml:"namespace,omitempty"`
	TaskQueue    string `yaml:"taskQueue"`
	WorkflowType string `yaml:"workflowType"`
	// WorkflowIDExpr is a template for the workflow ID. {{.correlation_id}},
	// {{.sequence}} and {{.<header>}} are substituted from the event metadata.
	WorkflowIDExpr string        `yaml:"workflowIdExpr,omitempty"`
	Mode           Mode          `yaml:"mode,omitempty"`
	SignalName     string        `yaml:"signalName,omitempty"` // required when Mode == ModeSignal
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Auth           AuthConfig    `yaml:"auth,omitempty"`
	TLS            TLSConfig     `yaml:"tls,omitempty"`
}

// Event is the workflow input (start mode) or signal argument.
type Event struct {
	Payload       []byte            `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	CorrelationID string            `json:"correlationId"`
	Sequence      uint64            `json:"sequence"`
	ReceivedAt    time.Time         `json:"receivedAt"`
}

// Sink delivers events by starting or signalling Temporal workflows.
type Sink struct {
	client  WorkflowClient
	config  Config
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewSink creates a new Temporal sink with the given client.
func NewSink(client WorkflowClient, cfg Config, logger *slog.Logger) (*Sink, error) {
	if client == nil {
		return nil, errors.New("temporal client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStart
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		client:  client,
		config:  cfg,
		timeout: timeout,
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("temporal-sink"),
	}, nil
}

func (c Config) validate() error {
	if c.TaskQueue == "" {
		return errors.New("task queue is required")
	}
	if c.WorkflowType == "" {
		return errors.New("workflow type is required")
	}
	switch c.Mode {
	case "", ModeStart:
	case ModeSignal:
		if c.SignalName == "" {
			return errors.New("signal name is required when mode is 'signal'")
		}
	default:
		return fmt.Errorf("unsupported mode: %s", c.Mode)
	}
	return nil
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// Deliver sends an event to Temporal as a workflow start or signal.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()
	corrID := correlation.ExtractOrGenerate(headers)
	workflowID := s.resolveWorkflowID(corrID.Value, headers)

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanTemporalInvoke,
		trace.WithAttributes(
			tracing.WorkflowTypeAttr(s.config.WorkflowType),
			tracing.WorkflowIDAttr(workflowID),
			tracing.CorrelationAttr(corrID.Value),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	arg := Event{
		Payload:       event,
		Headers:       headers,
		CorrelationID: corrID.Value,
		Sequence:      sink.Sequence(headers),
		ReceivedAt:    sink.ReceivedAt(headers),
	}

	var err error
	switch s.config.Mode {
	case ModeSignal:
		span.SetAttributes(tracing.SignalNameAttr(s.config.SignalName))
		if err = s.client.SignalWorkflow(ctx, workflowID, "", s.config.SignalName, arg); err != nil {
			err = fmt.Errorf("signal workflow %s: %w", workflowID, err)
		}
	default:
		opts := StartWorkflowOptions{ID: workflowID, TaskQueue: s.config.TaskQueue}
		if _, err = s.client.ExecuteWorkflow(ctx, opts, s.config.WorkflowType, arg); err != nil {
			err = fmt.Errorf("start workflow %s: %w", workflowID, err)
		}
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		s.logger.Error("delivery failed",
			"correlation_id", corrID.Value,
			"target", workflowID,
			"error", err,
		)
		return err
	}

	tracing.SetSpanOK(span)
	s.logger.Info("event delivered",
		"correlation_id", corrID.Value,
		"target", workflowID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close shuts down the Temporal client.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// resolveWorkflowID expands WorkflowIDExpr. Without an expression the ID is
// derived from the workflow type and correlation ID, so redelivery of the
// same event maps onto the same workflow.
func (s *Sink) resolveWorkflowID(corrID string, headers map[string]string) string {
	expr := s.config.WorkflowIDExpr
	if expr == "" {
		return s.config.WorkflowType + "-" + corrID
	}
	if !strings.Contains(expr, "{{") {
		return expr
	}

	pairs := make([]string, 0, 2*len(headers)+4)
	for k, v := range headers {
		pairs = append(pairs, "{{."+k+"}}", v)
	}
	pairs = append(pairs,
		"{{.correlation_id}}", corrID,
		"{{.sequence}}", strconv.FormatUint(sink.Sequence(headers), 10),
	)
	return strings.NewReplacer(pairs...).Replace(expr)
}
