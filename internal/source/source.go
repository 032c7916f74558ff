package source

import (
	"context"
	"errors"
	"time"
)

// ErrStreamEnded is returned by Subscription.Recv when the remote side closed
// the stream gracefully.
var ErrStreamEnded = errors.New("event stream ended")

// Event represents a raw event received on a subscription.
type Event struct {
	// Value is the payload exactly as received. It is never inspected.
	Value []byte
	// Headers carries the response metadata of the subscription.
	Headers map[string]string
	// Sequence is the 1-based position of the event within its subscription.
	Sequence   uint64
	ReceivedAt time.Time
}

// Subscription is one live, ordered stream of events bound to a single
// connection. It is owned by one consumer and must be closed when the
// consumer is done with it.
type Subscription interface {
	// Recv blocks until the next event arrives. It returns ErrStreamEnded when
	// the remote side closes the stream and the transport error otherwise.
	Recv() (Event, error)

	// Close tears down the stream and releases the connection. Safe to call
	// more than once.
	Close() error
}

// Opener establishes a connection to the remote event source and opens a
// subscription on it.
type Opener interface {
	// Open returns once the remote side has accepted the subscription.
	// On failure no connection is left open.
	Open(ctx context.Context) (Subscription, error)
}
