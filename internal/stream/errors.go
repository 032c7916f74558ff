package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/lsm/eventlogger/internal/source"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SinkError reports that the handler rejected an event.
type SinkError struct {
	Sequence uint64
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("deliver event %d: %v", e.Sequence, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ConnectError reports that a subscription could not be established.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "connect: " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// Reason is the failure class of an error seen by the runner.
type Reason int

const (
	ReasonCanceled Reason = iota
	ReasonStreamEnded
	ReasonSink
	ReasonConnection
	ReasonProtocol
)

func (r Reason) String() string {
	switch r {
	case ReasonCanceled:
		return "canceled"
	case ReasonStreamEnded:
		return "stream_ended"
	case ReasonSink:
		return "sink"
	case ReasonConnection:
		return "connection"
	case ReasonProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Classify maps an error to its failure class. Errors without a gRPC status
// are transport failures.
func Classify(err error) Reason {
	var sinkErr *SinkError
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, source.ErrStreamEnded):
		return ReasonStreamEnded
	case errors.As(err, &sinkErr):
		return ReasonSink
	}

	st, ok := status.FromError(err)
	if !ok {
		return ReasonConnection
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unknown, codes.Canceled:
		return ReasonConnection
	default:
		return ReasonProtocol
	}
}
