// Package sink defines where received events end up.
package sink

import (
	"context"
	"strconv"
	"time"
)

// Sink delivers events to a destination.
type Sink interface {
	// Deliver sends one event to the destination. Returns nil only once the
	// destination has accepted the event; the next event is not received
	// before Deliver returns.
	Deliver(ctx context.Context, event []byte, headers map[string]string) error

	// Close performs graceful shutdown.
	Close() error
}

// Kind names a sink implementation in configuration.
type Kind string

const (
	KindSQL      Kind = "sql"
	KindLog      Kind = "log"
	KindBlob     Kind = "blob"
	KindKafka    Kind = "kafka"
	KindHTTP     Kind = "http"
	KindGRPC     Kind = "grpc"
	KindTemporal Kind = "temporal"
)

// Kinds lists every supported sink kind.
var Kinds = []Kind{KindSQL, KindLog, KindBlob, KindKafka, KindHTTP, KindGRPC, KindTemporal}

// Valid reports whether k names a supported sink.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Headers set by the pipeline on every delivery.
const (
	HeaderSequence   = "event-sequence"
	HeaderReceivedAt = "event-received-at"
)

// Sequence returns the per-subscription sequence number carried in headers,
// or 0 when absent.
func Sequence(headers map[string]string) uint64 {
	n, err := strconv.ParseUint(headers[HeaderSequence], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ReceivedAt returns the receive timestamp carried in headers, or the current
// time when absent or malformed.
func ReceivedAt(headers map[string]string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, headers[HeaderReceivedAt]); err == nil {
		return t
	}
	return time.Now().UTC()
}
