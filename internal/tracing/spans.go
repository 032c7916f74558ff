package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrCorrelationID = "event_logger.correlation_id"
	AttrSequence      = "event_logger.sequence"
	AttrSinkType      = "event_logger.sink"
	AttrPayloadSize   = "messaging.message.body.size"
	AttrKafkaTopic    = "messaging.kafka.topic"
	AttrHTTPTarget    = "http.target"
	AttrHTTPStatus    = "http.status_code"
	AttrGRPCMethod    = "rpc.grpc.method"
	AttrWorkflowType  = "temporal.workflow.type"
	AttrWorkflowID    = "temporal.workflow.id"
	AttrSignalName    = "temporal.signal.name"
	AttrDBTable       = "db.sql.table"
	AttrBlobKey       = "blob.key"
)

const (
	SpanEventReceived  = "event_logger.event.receive"
	SpanDeliver        = "event_logger.deliver"
	SpanKafkaPublish   = "kafka.publish"
	SpanHTTPDeliver    = "http.deliver"
	SpanGRPCDeliver    = "grpc.deliver"
	SpanTemporalInvoke = "temporal.invoke"
	SpanSQLInsert      = "sql.insert"
	SpanBlobWrite      = "blob.write"
)

// StartSpan starts a new span. If tracer is nil, the span already in ctx is returned.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

func CorrelationAttr(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

func SequenceAttr(seq uint64) attribute.KeyValue {
	return attribute.Int64(AttrSequence, int64(seq))
}

func SinkTypeAttr(kind string) attribute.KeyValue {
	return attribute.String(AttrSinkType, kind)
}

func PayloadSizeAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrPayloadSize, n)
}

func KafkaTopicAttr(topic string) attribute.KeyValue {
	return attribute.String(AttrKafkaTopic, topic)
}

func HTTPTargetAttr(url string) attribute.KeyValue {
	return attribute.String(AttrHTTPTarget, url)
}

func HTTPStatusAttr(status int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, status)
}

func GRPCMethodAttr(method string) attribute.KeyValue {
	return attribute.String(AttrGRPCMethod, method)
}

func WorkflowTypeAttr(workflowType string) attribute.KeyValue {
	return attribute.String(AttrWorkflowType, workflowType)
}

func WorkflowIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrWorkflowID, id)
}

func SignalNameAttr(name string) attribute.KeyValue {
	return attribute.String(AttrSignalName, name)
}

func DBTableAttr(table string) attribute.KeyValue {
	return attribute.String(AttrDBTable, table)
}

func BlobKeyAttr(key string) attribute.KeyValue {
	return attribute.String(AttrBlobKey, key)
}
