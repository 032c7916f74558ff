// Package grpctest runs an in-memory event stream server for tests.
package grpctest

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/lsm/eventlogger/internal/grpccodec"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

// Target is the dial target to use together with Server.DialOption.
const Target = "passthrough:///bufnet"

const bufSize = 1024 * 1024

// StreamFunc serves a single subscription. The returned error ends the call
// with its status; nil closes the stream gracefully.
type StreamFunc func(s *Stream) error

// Server accepts any streaming method and hands each call to a StreamFunc.
type Server struct {
	lis         *bufconn.Listener
	grpcServer  *grpc.Server
	stream      StreamFunc
	sentCounter prometheus.Counter

	mu      sync.Mutex
	methods []string
}

// NewServer starts a server backed by an in-memory listener. It is stopped
// when the test finishes.
func NewServer(t testing.TB, stream StreamFunc) *Server {
	srv := &Server{
		lis:         bufconn.Listen(bufSize),
		stream:      stream,
		sentCounter: prometheus.NewCounter(prometheus.CounterOpts{Name: "sent_total"}),
	}
	srv.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(grpccodec.Raw{}),
		grpc.UnknownServiceHandler(srv.handle),
	)

	go func() {
		_ = srv.grpcServer.Serve(srv.lis)
	}()
	t.Cleanup(srv.Stop)

	return srv
}

// DialOption routes client connections to the in-memory listener.
func (srv *Server) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return srv.lis.DialContext(ctx)
	})
}

// Subscriptions returns the number of calls the server has accepted.
func (srv *Server) Subscriptions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.methods)
}

// Methods returns the full method names of the accepted calls.
func (srv *Server) Methods() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]string(nil), srv.methods...)
}

// SentCount returns the number of events sent across all calls.
func (srv *Server) SentCount() float64 {
	return testutil.ToFloat64(srv.sentCounter)
}

func (srv *Server) Stop() {
	srv.grpcServer.Stop()
}

func (srv *Server) handle(_ interface{}, ss grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(ss)
	srv.mu.Lock()
	srv.methods = append(srv.methods, method)
	srv.mu.Unlock()

	var req []byte
	if err := ss.RecvMsg(&req); err != nil {
		return err
	}
	return srv.stream(&Stream{ss: ss, sent: srv.sentCounter, req: req})
}

// Stream is the server side of one subscription.
type Stream struct {
	ss   grpc.ServerStream
	sent prometheus.Counter
	req  []byte
}

func (s *Stream) Context() context.Context { return s.ss.Context() }

// Request returns the payload of the client's request message.
func (s *Stream) Request() []byte { return s.req }

func (s *Stream) SendHeader(md metadata.MD) error {
	return s.ss.SendHeader(md)
}

// Send writes one event payload.
func (s *Stream) Send(payload []byte) error {
	if err := s.ss.SendMsg(payload); err != nil {
		return err
	}
	s.sent.Inc()
	return nil
}
