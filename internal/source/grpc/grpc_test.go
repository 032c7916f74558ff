package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lsm/eventlogger/internal/source"
	"github.com/lsm/eventlogger/internal/source/grpc/grpctest"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newTestOpener(t *testing.T, srv *grpctest.Server) *Opener {
	t.Helper()
	o, err := NewOpener(Config{
		Target:         grpctest.Target,
		ConnectTimeout: 2 * time.Second,
		DialOptions:    []grpc.DialOption{srv.DialOption()},
	}, nil)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}
	return o
}

func TestOpener_ReceivesEventsInOrder(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		if err := s.SendHeader(metadata.Pairs("x-mission", "m1")); err != nil {
			return err
		}
		for _, p := range []string{"e1", "e2", "e3"} {
			if err := s.Send([]byte(p)); err != nil {
				return err
			}
		}
		return nil
	})

	sub, err := newTestOpener(t, srv).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = sub.Close() }()

	for i, want := range []string{"e1", "e2", "e3"} {
		evt, err := sub.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if string(evt.Value) != want {
			t.Errorf("event %d: expected %q, got %q", i, want, evt.Value)
		}
		if evt.Sequence != uint64(i+1) {
			t.Errorf("event %d: expected sequence %d, got %d", i, i+1, evt.Sequence)
		}
		if evt.Headers["x-mission"] != "m1" {
			t.Errorf("event %d: expected x-mission header, got %v", i, evt.Headers)
		}
		if evt.ReceivedAt.IsZero() {
			t.Errorf("event %d: expected receive time", i)
		}
	}

	if _, err := sub.Recv(); !errors.Is(err, source.ErrStreamEnded) {
		t.Fatalf("expected ErrStreamEnded, got %v", err)
	}

	methods := srv.Methods()
	if len(methods) != 1 || methods[0] != DefaultMethod {
		t.Errorf("expected call to %s, got %v", DefaultMethod, methods)
	}
}

func TestOpener_EventHeadersAreIndependent(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		_ = s.SendHeader(metadata.Pairs("x-mission", "m1"))
		_ = s.Send([]byte("a"))
		return s.Send([]byte("b"))
	})

	sub, err := newTestOpener(t, srv).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = sub.Close() }()

	first, _ := sub.Recv()
	first.Headers["x-mission"] = "changed"
	second, err := sub.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if second.Headers["x-mission"] != "m1" {
		t.Errorf("expected untouched header, got %q", second.Headers["x-mission"])
	}
}

func TestOpener_CustomMethod(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		return s.SendHeader(metadata.MD{})
	})

	o, err := NewOpener(Config{
		Target:      grpctest.Target,
		Method:      "/test.v1.Events/Subscribe",
		DialOptions: []grpc.DialOption{srv.DialOption()},
	}, nil)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}
	sub, err := o.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = sub.Close()

	if m := srv.Methods(); len(m) != 1 || m[0] != "/test.v1.Events/Subscribe" {
		t.Errorf("unexpected methods %v", m)
	}
}

func TestOpener_RejectedSubscription(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		return status.Error(codes.PermissionDenied, "not allowed")
	})

	sub, err := newTestOpener(t, srv).Open(context.Background())
	if err == nil {
		_ = sub.Close()
		t.Fatal("expected error for rejected subscription")
	}
	if st, _ := status.FromError(err); st.Code() != codes.PermissionDenied {
		t.Errorf("expected PermissionDenied, got %v", err)
	}
}

func TestOpener_ImmediateEndOfStream(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		return nil
	})

	_, err := newTestOpener(t, srv).Open(context.Background())
	if !errors.Is(err, source.ErrStreamEnded) {
		t.Fatalf("expected ErrStreamEnded, got %v", err)
	}
}

func TestOpener_StreamErrorAfterEvents(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		_ = s.Send([]byte("e1"))
		return status.Error(codes.Unavailable, "going away")
	})

	sub, err := newTestOpener(t, srv).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = sub.Close() }()

	if evt, err := sub.Recv(); err != nil || string(evt.Value) != "e1" {
		t.Fatalf("expected e1, got %q, %v", evt.Value, err)
	}
	_, err = sub.Recv()
	if st, _ := status.FromError(err); st.Code() != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	if errors.Is(err, source.ErrStreamEnded) {
		t.Fatal("error status must not be reported as end of stream")
	}
}

func TestOpener_ConnectionRefused(t *testing.T) {
	o, err := NewOpener(Config{
		Target:         "passthrough:///refused",
		ConnectTimeout: 2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
				return nil, errors.New("connection refused")
			}),
		},
	}, nil)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}

	start := time.Now()
	_, err = o.Open(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if st, _ := status.FromError(err); st.Code() != codes.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("refused connection took %v", time.Since(start))
	}
}

func TestOpener_ConnectTimeout(t *testing.T) {
	o, err := NewOpener(Config{
		Target:         "passthrough:///blackhole",
		ConnectTimeout: 50 * time.Millisecond,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
	}, nil)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}

	_, err = o.Open(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected handshake timeout, got %v", err)
	}
}

func TestOpener_OpenCanceled(t *testing.T) {
	o, err := NewOpener(Config{
		Target:         "passthrough:///blackhole",
		ConnectTimeout: time.Minute,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
	}, nil)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = o.Open(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSubscription_CloseUnblocksRecv(t *testing.T) {
	srv := grpctest.NewServer(t, func(s *grpctest.Stream) error {
		_ = s.Send([]byte("e1"))
		<-s.Context().Done()
		return s.Context().Err()
	})

	sub, err := newTestOpener(t, srv).Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := sub.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Recv()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error from Recv after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}

	// Close is idempotent.
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewOpener_MissingTarget(t *testing.T) {
	_, err := NewOpener(Config{}, nil)
	if err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestNewOpener_Defaults(t *testing.T) {
	o, err := NewOpener(Config{Target: "localhost:50051"}, nil)
	if err != nil {
		t.Fatalf("new opener: %v", err)
	}
	if o.method != DefaultMethod {
		t.Errorf("expected default method, got %s", o.method)
	}
	if o.connectTimeout != 10*time.Second {
		t.Errorf("expected 10s connect timeout, got %v", o.connectTimeout)
	}
}
