package stream

import (
	"context"
	"sync"

	"github.com/lsm/eventlogger/internal/source"
)

// fakeSub replays events, then returns end (or blocks until its context is
// cancelled or it is closed when end is nil).
type fakeSub struct {
	ctx    context.Context
	events [][]byte
	end    error

	mu     sync.Mutex
	next   int
	recvs  int
	closed chan struct{}
	once   sync.Once
}

func newFakeSub(end error, payloads ...string) *fakeSub {
	s := &fakeSub{ctx: context.Background(), end: end, closed: make(chan struct{})}
	for _, p := range payloads {
		s.events = append(s.events, []byte(p))
	}
	return s
}

func (s *fakeSub) Recv() (source.Event, error) {
	s.mu.Lock()
	s.recvs++
	if s.next < len(s.events) {
		s.next++
		evt := source.Event{Value: s.events[s.next-1], Sequence: uint64(s.next)}
		s.mu.Unlock()
		return evt, nil
	}
	s.mu.Unlock()

	if s.end != nil {
		return source.Event{}, s.end
	}
	select {
	case <-s.ctx.Done():
		return source.Event{}, s.ctx.Err()
	case <-s.closed:
		return source.Event{}, context.Canceled
	}
}

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSub) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSub) recvCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvs
}

// openResult is one scripted outcome of fakeOpener.Open.
type openResult struct {
	sub   *fakeSub
	err   error
	block bool
}

// fakeOpener returns scripted results in order. Once the script is exhausted
// every Open blocks until its context is cancelled.
type fakeOpener struct {
	mu      sync.Mutex
	results []openResult
	calls   int
}

func (o *fakeOpener) Open(ctx context.Context) (source.Subscription, error) {
	o.mu.Lock()
	o.calls++
	var res openResult
	if len(o.results) > 0 {
		res = o.results[0]
		o.results = o.results[1:]
	} else {
		res.block = true
	}
	o.mu.Unlock()

	switch {
	case res.block:
		<-ctx.Done()
		return nil, ctx.Err()
	case res.err != nil:
		return nil, res.err
	default:
		res.sub.ctx = ctx
		return res.sub, nil
	}
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// recorder is a Handler that records payloads and can fail on demand.
type recorder struct {
	mu      sync.Mutex
	got     []string
	failOn  map[string]error
	notifyN int
	reached chan struct{}
}

func newRecorder(signalAfter int) *recorder {
	return &recorder{notifyN: signalAfter, reached: make(chan struct{})}
}

func (r *recorder) Handle(_ context.Context, evt source.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn[string(evt.Value)]; ok {
		delete(r.failOn, string(evt.Value))
		return err
	}
	r.got = append(r.got, string(evt.Value))
	if len(r.got) == r.notifyN {
		close(r.reached)
	}
	return nil
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}
