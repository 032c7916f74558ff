// Package stream consumes event subscriptions and keeps them alive across
// failures.
package stream

import (
	"context"

	"github.com/lsm/eventlogger/internal/source"
)

// Handler processes a single event. It is called synchronously, one event at
// a time, in subscription order.
type Handler interface {
	Handle(ctx context.Context, evt source.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt source.Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt source.Event) error { return f(ctx, evt) }

// Consume pulls events from sub and hands each to h before reading the next.
// It returns source.ErrStreamEnded when the remote side closes the stream, a
// *SinkError when h fails, and the receive error otherwise. It never returns
// nil.
func Consume(ctx context.Context, sub source.Subscription, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		evt, err := sub.Recv()
		if err != nil {
			return err
		}
		if err := h.Handle(ctx, evt); err != nil {
			return &SinkError{Sequence: evt.Sequence, Err: err}
		}
	}
}
