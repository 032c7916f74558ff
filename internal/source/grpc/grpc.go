// Package grpc opens server-streamed event subscriptions over gRPC.
package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/lsm/eventlogger/internal/grpccodec"
	"github.com/lsm/eventlogger/internal/source"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
)

// DefaultMethod is the parameterless subscribe call of the mission service.
const DefaultMethod = "/dcs.mission.v0.MissionService/StreamEvents"

// Config holds gRPC source configuration.
type Config struct {
	Target           string
	Method           string
	TLS              bool
	KeepAliveTime    time.Duration
	KeepAliveTimeout time.Duration
	// ConnectTimeout bounds the wait for the connection to become ready.
	ConnectTimeout time.Duration
	DialOptions    []grpc.DialOption
}

// Opener dials the target and opens an event stream on every Open call.
type Opener struct {
	target         string
	method         string
	connectTimeout time.Duration
	dialOpts       []grpc.DialOption
	logger         *slog.Logger
}

var _ source.Opener = (*Opener)(nil)

// NewOpener creates a new gRPC opener.
func NewOpener(cfg Config, logger *slog.Logger) (*Opener, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("gRPC target is required")
	}
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	if cfg.KeepAliveTime == 0 {
		cfg.KeepAliveTime = 30 * time.Second
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []grpc.DialOption
	if cfg.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	// Keep pinging while no stream is active so half-open connections are noticed.
	opts = append(opts,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepAliveTime,
			Timeout:             cfg.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	opts = append(opts, cfg.DialOptions...)

	return &Opener{
		target:         cfg.Target,
		method:         cfg.Method,
		connectTimeout: cfg.ConnectTimeout,
		dialOpts:       opts,
		logger:         logger,
	}, nil
}

// Open connects to the target and subscribes to its event stream. It returns
// once the server has sent response headers, or with the status the server
// rejected the call with.
func (o *Opener) Open(ctx context.Context) (source.Subscription, error) {
	conn, err := grpc.NewClient(o.target, o.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", o.target, err)
	}

	if err := o.waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub, err := o.subscribe(streamCtx, conn)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, err
	}
	sub.cancel = cancel

	o.logger.Info("subscription established",
		"target", o.target,
		"method", o.method,
	)
	return sub, nil
}

// waitReady drives the connection out of IDLE and waits until it stops
// connecting. A failed handshake is left for the stream call to report, since
// that error carries the transport cause.
func (o *Opener) waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready, connectivity.TransientFailure:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("connect %s: connection shut down", o.target)
		}
		if !conn.WaitForStateChange(waitCtx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("connect %s: not ready after %s: %w", o.target, o.connectTimeout, context.DeadlineExceeded)
		}
	}
}

func (o *Opener) subscribe(ctx context.Context, conn *grpc.ClientConn) (*subscription, error) {
	desc := &grpc.StreamDesc{StreamName: "StreamEvents", ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, o.method, grpc.ForceCodec(grpccodec.Proto{}))
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", o.method, err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}

	sub := &subscription{conn: conn, stream: stream}

	md, err := stream.Header()
	if err != nil {
		return nil, fmt.Errorf("receive headers: %w", err)
	}
	if md == nil {
		// The call finished without headers; the outcome is reported by RecvMsg.
		var first []byte
		if err := stream.RecvMsg(&first); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, source.ErrStreamEnded
			}
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		sub.pending = &first
	}
	sub.headers = headersFromMD(md)
	return sub, nil
}

type subscription struct {
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	headers map[string]string
	pending *[]byte
	seq     uint64

	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) Recv() (source.Event, error) {
	var data []byte
	if s.pending != nil {
		data, s.pending = *s.pending, nil
	} else if err := s.stream.RecvMsg(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return source.Event{}, source.ErrStreamEnded
		}
		return source.Event{}, fmt.Errorf("receive event: %w", err)
	}

	s.seq++
	return source.Event{
		Value:      data,
		Headers:    maps.Clone(s.headers),
		Sequence:   s.seq,
		ReceivedAt: time.Now(),
	}, nil
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func headersFromMD(md metadata.MD) map[string]string {
	headers := make(map[string]string, len(md))
	for k, v := range md {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}
