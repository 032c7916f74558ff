package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/eventlogger/internal/config"
	"github.com/lsm/eventlogger/internal/sink"
	blobsink "github.com/lsm/eventlogger/internal/sink/blob"
	grpcsink "github.com/lsm/eventlogger/internal/sink/grpc"
	httpsink "github.com/lsm/eventlogger/internal/sink/http"
	kafkasink "github.com/lsm/eventlogger/internal/sink/kafka"
	logsink "github.com/lsm/eventlogger/internal/sink/log"
	sqlsink "github.com/lsm/eventlogger/internal/sink/sql"
	temporalsink "github.com/lsm/eventlogger/internal/sink/temporal"
)

// tracedSink is implemented by sinks that record their own spans.
type tracedSink interface {
	sink.Sink
	SetTracer(trace.Tracer)
}

// buildSink constructs the configured sink. Only configuration is checked
// here; backends are first contacted by the first delivery.
func buildSink(ctx context.Context, cfg *config.Config, logger *slog.Logger, tracer trace.Tracer) (sink.Sink, error) {
	sc := cfg.Sink
	var (
		sk  sink.Sink
		err error
	)

	switch sc.Type {
	case sink.KindSQL:
		sk, err = sqlsink.Open(sc.SQL, logger)
	case sink.KindLog:
		sk = logsink.NewSink(sc.Log, logger)
	case sink.KindBlob:
		sk, err = blobsink.Open(ctx, sc.Blob, logger)
	case sink.KindKafka:
		sk, err = kafkasink.NewSink(sc.Kafka, logger)
	case sink.KindHTTP:
		sk, err = httpsink.NewSink(sc.HTTP, logger)
	case sink.KindGRPC:
		sk, err = grpcsink.NewSink(sc.GRPC, logger)
	case sink.KindTemporal:
		sk, err = buildTemporalSink(sc.Temporal, logger)
	default:
		return nil, fmt.Errorf("unsupported sink type: %q", sc.Type)
	}
	if err != nil {
		return nil, err
	}

	if ts, ok := sk.(tracedSink); ok && tracer != nil {
		ts.SetTracer(tracer)
	}
	return sk, nil
}

func buildTemporalSink(cfg temporalsink.Config, logger *slog.Logger) (sink.Sink, error) {
	client, err := temporalsink.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	sk, err := temporalsink.NewSink(client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return sk, nil
}
