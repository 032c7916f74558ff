package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lsm/eventlogger/internal/backoff"
	"github.com/lsm/eventlogger/internal/observability"
	"github.com/lsm/eventlogger/internal/source"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errUnavailable = status.Error(codes.Unavailable, "connection refused")

func fastPolicy() *backoff.Policy {
	return backoff.New(backoff.Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     8 * time.Millisecond,
		Multiplier:      2,
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type notification struct {
	reason Reason
	delay  time.Duration
}

type notifications struct {
	mu  sync.Mutex
	got []notification
}

func (n *notifications) record(err error, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, notification{reason: Classify(err), delay: d})
}

func (n *notifications) list() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.got...)
}

// startRunner runs r in the background and returns a function that cancels
// it and waits for Run to return.
func startRunner(t *testing.T, r *Runner) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancellation")
			return nil
		}
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRunner_ThreeFailuresThenSuccess(t *testing.T) {
	opener := &fakeOpener{results: []openResult{
		{err: errUnavailable},
		{err: errUnavailable},
		{err: errUnavailable},
		{sub: newFakeSub(nil, "e1", "e2")},
	}}
	rec := newRecorder(2)
	var notes notifications

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(quietLogger()), WithNotify(notes.record))
	stop := startRunner(t, r)

	waitFor(t, rec.reached, "two deliveries")
	if err := stop(); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}

	got := notes.list()
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("expected %d retries, got %v", len(want), got)
	}
	for i, w := range want {
		if got[i].delay != w {
			t.Errorf("retry %d: expected delay %v, got %v", i, w, got[i].delay)
		}
		if got[i].reason != ReasonConnection {
			t.Errorf("retry %d: expected connection reason, got %s", i, got[i].reason)
		}
	}
	if opener.callCount() != 4 {
		t.Errorf("expected 4 open attempts, got %d", opener.callCount())
	}
	if p := rec.payloads(); len(p) != 2 || p[0] != "e1" || p[1] != "e2" {
		t.Errorf("expected [e1 e2], got %v", p)
	}
}

func TestRunner_StreamErrorReconnectsWithoutGaps(t *testing.T) {
	first := newFakeSub(errUnavailable, "e1", "e2", "e3")
	second := newFakeSub(nil, "e4", "e5")
	opener := &fakeOpener{results: []openResult{{sub: first}, {sub: second}}}
	rec := newRecorder(5)
	var notes notifications

	var statesMu sync.Mutex
	var states []State
	hook := func(s State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	}

	r := NewRunner(opener, rec, fastPolicy(),
		WithLogger(quietLogger()),
		WithNotify(notes.record),
		WithStateHook(hook),
	)
	stop := startRunner(t, r)
	waitFor(t, rec.reached, "five deliveries")
	if err := stop(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	want := []string{"e1", "e2", "e3", "e4", "e5"}
	got := rec.payloads()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if !first.isClosed() {
		t.Error("expected failed subscription to be closed before reconnecting")
	}

	notes0 := notes.list()
	if len(notes0) != 1 || notes0[0].delay != time.Millisecond || notes0[0].reason != ReasonConnection {
		t.Errorf("expected one connection retry at the initial interval, got %v", notes0)
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	wantStates := []State{StateConnecting, StateStreaming, StateConnecting, StateStreaming}
	if len(states) < len(wantStates) {
		t.Fatalf("expected states %v, got %v", wantStates, states)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Fatalf("expected states %v, got %v", wantStates, states)
		}
	}
}

func TestRunner_RetryStateResetsAfterSuccessfulOpen(t *testing.T) {
	opener := &fakeOpener{results: []openResult{
		{err: errUnavailable},
		{err: errUnavailable},
		{sub: newFakeSub(status.Error(codes.Internal, "boom"), "e1")},
		{sub: newFakeSub(nil, "e2")},
	}}
	rec := newRecorder(2)
	var notes notifications

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(quietLogger()), WithNotify(notes.record))
	stop := startRunner(t, r)
	waitFor(t, rec.reached, "two deliveries")
	_ = stop()

	got := notes.list()
	if len(got) != 3 {
		t.Fatalf("expected 3 retries, got %v", got)
	}
	if got[0].delay != time.Millisecond || got[1].delay != 2*time.Millisecond {
		t.Errorf("expected growing delays before success, got %v", got[:2])
	}
	if got[2].delay != time.Millisecond {
		t.Errorf("expected delay to restart at the initial interval, got %v", got[2].delay)
	}
	if got[2].reason != ReasonProtocol {
		t.Errorf("expected protocol reason for Internal status, got %s", got[2].reason)
	}
}

func TestRunner_GracefulEndTriggersReconnect(t *testing.T) {
	opener := &fakeOpener{results: []openResult{
		{sub: newFakeSub(source.ErrStreamEnded, "e1")},
		{sub: newFakeSub(nil, "e2")},
	}}
	rec := newRecorder(2)
	var notes notifications

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(quietLogger()), WithNotify(notes.record))
	stop := startRunner(t, r)
	waitFor(t, rec.reached, "delivery after reconnect")
	_ = stop()

	got := notes.list()
	if len(got) != 1 || got[0].reason != ReasonStreamEnded {
		t.Fatalf("expected one stream_ended retry, got %v", got)
	}
	if opener.callCount() < 2 {
		t.Errorf("expected a second subscription, got %d opens", opener.callCount())
	}
}

func TestRunner_SinkErrorReconnects(t *testing.T) {
	opener := &fakeOpener{results: []openResult{
		{sub: newFakeSub(nil, "e1", "e2")},
		{sub: newFakeSub(nil, "e2", "e3")},
	}}
	rec := newRecorder(3)
	rec.failOn = map[string]error{"e2": errors.New("db down")}
	var notes notifications

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(quietLogger()), WithNotify(notes.record))
	stop := startRunner(t, r)
	waitFor(t, rec.reached, "three deliveries")
	_ = stop()

	got := notes.list()
	if len(got) != 1 || got[0].reason != ReasonSink {
		t.Fatalf("expected one sink retry, got %v", got)
	}
	if p := rec.payloads(); strings.Join(p, ",") != "e1,e2,e3" {
		t.Errorf("expected e1,e2,e3, got %v", p)
	}
}

func TestRunner_CancelWhileConnecting(t *testing.T) {
	opener := &fakeOpener{results: []openResult{{block: true}}}
	rec := newRecorder(-1)

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took %v", elapsed)
	}
	if len(rec.payloads()) != 0 {
		t.Errorf("expected no deliveries, got %v", rec.payloads())
	}
}

func TestRunner_CancelDuringLongBackoff(t *testing.T) {
	opener := &fakeOpener{results: []openResult{{err: errUnavailable}}}
	policy := backoff.New(backoff.Config{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 1})

	notified := make(chan struct{})
	var once sync.Once
	r := NewRunner(opener, newRecorder(-1), policy,
		WithLogger(quietLogger()),
		WithNotify(func(error, time.Duration) { once.Do(func() { close(notified) }) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, notified, "first failure")
	start := time.Now()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return during backoff")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took %v", elapsed)
	}
	if opener.callCount() != 1 {
		t.Errorf("expected a single open attempt, got %d", opener.callCount())
	}
}

func TestRunner_CancelWhileHandlerBlocked(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	h := HandlerFunc(func(ctx context.Context, evt source.Event) error {
		close(entered)
		<-release
		return nil
	})
	opener := &fakeOpener{results: []openResult{{sub: newFakeSub(nil, "e1")}}}

	r := NewRunner(opener, h, fastPolicy(), WithLogger(quietLogger()))
	stop := startRunner(t, r)
	waitFor(t, entered, "handler call")

	if err := stop(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestRunner_Metrics(t *testing.T) {
	opener := &fakeOpener{results: []openResult{
		{err: errUnavailable},
		{err: status.Error(codes.PermissionDenied, "no")},
		{sub: newFakeSub(nil, "e1")},
	}}
	rec := newRecorder(1)
	m := observability.NewMetrics(prometheus.NewRegistry())

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(quietLogger()), WithMetrics(m))
	stop := startRunner(t, r)
	waitFor(t, rec.reached, "delivery")

	if got := testutil.ToFloat64(m.StreamState); got != float64(StateStreaming) {
		t.Errorf("expected streaming state gauge, got %v", got)
	}
	_ = stop()

	if got := testutil.ToFloat64(m.ConnectionAttempts.WithLabelValues("failure")); got != 2 {
		t.Errorf("expected 2 failed attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionAttempts.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 successful attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("connection")); got != 1 {
		t.Errorf("expected 1 connection retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("protocol")); got != 1 {
		t.Errorf("expected 1 protocol retry, got %v", got)
	}
}

func TestRunner_LogsRetries(t *testing.T) {
	var buf syncBuffer
	logger := observability.NewLoggerTo(&buf, "runner", slog.LevelInfo)

	opener := &fakeOpener{results: []openResult{
		{err: errUnavailable},
		{sub: newFakeSub(nil, "e1")},
	}}
	rec := newRecorder(1)

	r := NewRunner(opener, rec, fastPolicy(), WithLogger(logger))
	stop := startRunner(t, r)
	waitFor(t, rec.reached, "delivery")
	_ = stop()

	out := buf.String()
	for _, want := range []string{
		`"msg":"retrying after error"`,
		`"reason":"connection"`,
		`"backoff":"0.00s"`,
		`"attempt":1`,
		`connection refused`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %s, got:\n%s", want, out)
		}
	}
}

func TestRunner_DefaultPolicy(t *testing.T) {
	r := NewRunner(&fakeOpener{}, newRecorder(-1), nil)
	if r.policy == nil {
		t.Fatal("expected default policy")
	}
	if r.State() != StateConnecting {
		t.Errorf("expected initial state connecting, got %s", r.State())
	}
}

func TestRunner_DoneWaitsForInFlightDelivery(t *testing.T) {
	opener := &fakeOpener{results: []openResult{{sub: newFakeSub(nil, "E1")}}}

	started := make(chan struct{})
	var inFlight atomic.Bool
	slow := HandlerFunc(func(context.Context, source.Event) error {
		inFlight.Store(true)
		close(started)
		time.Sleep(100 * time.Millisecond)
		inFlight.Store(false)
		return nil
	})

	r := NewRunner(opener, slow, fastPolicy(), WithLogger(quietLogger()))
	stop := startRunner(t, r)
	waitFor(t, started, "delivery to start")

	begin := time.Now()
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 80*time.Millisecond {
		t.Errorf("Run waited %v for the delivery; cancellation must return at once", elapsed)
	}
	if !inFlight.Load() {
		t.Fatal("expected delivery to still be running when Run returned")
	}

	waitFor(t, r.Done(), "loop to finish")
	if inFlight.Load() {
		t.Error("Done closed while the delivery was still running")
	}
}

func TestState_String(t *testing.T) {
	if StateConnecting.String() != "connecting" || StateStreaming.String() != "streaming" {
		t.Errorf("unexpected state names %s, %s", StateConnecting, StateStreaming)
	}
	if State(9).String() != "state(9)" {
		t.Errorf("unexpected name %s", State(9))
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
