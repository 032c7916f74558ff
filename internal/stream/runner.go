package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lsm/eventlogger/internal/backoff"
	"github.com/lsm/eventlogger/internal/observability"
	"github.com/lsm/eventlogger/internal/source"
)

// State is the phase the runner is in.
type State int

const (
	StateConnecting State = iota
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithStateHook registers fn to be called on every state change, and once
// with the initial state.
func WithStateHook(fn func(State)) Option {
	return func(r *Runner) { r.stateHook = fn }
}

// WithNotify registers fn to be called with each failure and the delay
// before the next attempt.
func WithNotify(fn func(err error, delay time.Duration)) Option {
	return func(r *Runner) { r.notify = fn }
}

// Runner keeps a subscription open for as long as its context lives,
// reconnecting after every failure.
type Runner struct {
	opener    source.Opener
	handler   Handler
	policy    *backoff.Policy
	logger    *slog.Logger
	metrics   *observability.Metrics
	stateHook func(State)
	notify    func(error, time.Duration)

	state   atomic.Int32
	started bool
	done    chan struct{}
}

// NewRunner creates a runner. A nil policy uses backoff.DefaultConfig.
func NewRunner(opener source.Opener, handler Handler, policy *backoff.Policy, opts ...Option) *Runner {
	if policy == nil {
		policy = backoff.New(backoff.DefaultConfig())
	}
	r := &Runner{
		opener:  opener,
		handler: handler,
		policy:  policy,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run connects, consumes and reconnects until ctx is cancelled. Cancellation
// returns nil straight away without waiting for the in-flight operation; use
// Done to learn when that operation has finished. A Runner runs once.
func (r *Runner) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		defer close(r.done)
		done <- r.loop(ctx)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutting down", "state", r.State().String())
		return nil
	case err := <-done:
		return err
	}
}

func (r *Runner) loop(ctx context.Context) error {
	r.transition(StateConnecting)

	var sub source.Subscription
	for {
		var err error
		switch r.State() {
		case StateConnecting:
			r.logger.Info("connecting", "attempt", r.policy.Attempts()+1)
			sub, err = r.opener.Open(ctx)
			if err == nil {
				r.countAttempt("success")
				r.policy.Reset()
				r.transition(StateStreaming)
				continue
			}
			r.countAttempt("failure")
			err = &ConnectError{Err: err}

		case StateStreaming:
			err = Consume(ctx, sub, r.handler)
			_ = sub.Close()
			sub = nil
			r.transition(StateConnecting)
		}

		if ctx.Err() != nil {
			return nil
		}

		delay := r.policy.NextBackOff()
		reason := Classify(err)
		r.logger.Warn("retrying after error",
			"error", err,
			"reason", reason.String(),
			"backoff", fmt.Sprintf("%.2fs", delay.Seconds()),
			"attempt", r.policy.Attempts(),
		)
		if r.metrics != nil {
			r.metrics.RetriesTotal.WithLabelValues(reason.String()).Inc()
			r.metrics.BackoffSeconds.Observe(delay.Seconds())
		}
		if r.notify != nil {
			r.notify(err, delay)
		}

		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// Done is closed once the loop started by Run has returned, including any
// delivery that was in flight when the context was cancelled. The handler
// and its sink must stay usable until then.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// State returns the current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) transition(s State) {
	if r.started && r.State() == s {
		return
	}
	r.started = true
	r.state.Store(int32(s))
	r.logger.Debug("state changed", "state", s.String())
	if r.metrics != nil {
		r.metrics.StreamState.Set(float64(s))
	}
	if r.stateHook != nil {
		r.stateHook(s)
	}
}

func (r *Runner) countAttempt(result string) {
	if r.metrics != nil {
		r.metrics.ConnectionAttempts.WithLabelValues(result).Inc()
	}
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
