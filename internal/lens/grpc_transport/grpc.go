// Package grpc_transport carries lens calls over a single unary gRPC method,
// chunkdex.lens.v1.Lens/Call. Request and response bodies are the raw lens
// envelopes; target and method travel as metadata.
package grpc_transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syntrixbase/chunkdex/internal/lens"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	serviceName = "chunkdex.lens.v1.Lens"
	callMethod  = "/" + serviceName + "/Call"
	codecName   = "lens-raw"

	mdTarget = "lens-target"
	mdMethod = "lens-method"
)

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// frame is the message type for the raw codec.
type frame struct {
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("lens-raw: cannot marshal %T", v)
	}
	return f.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("lens-raw: cannot unmarshal into %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string {
	return codecName
}

// grpcDialer is the function used to create gRPC connections.
// It can be overridden in tests to simulate dial failures.
var grpcDialer = func(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	return grpc.NewClient(target, opts...)
}

// Transport is a lens.Transport over a gRPC connection.
type Transport struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

var _ lens.Transport = (*Transport)(nil)

// Dial creates a Transport for address using insecure credentials.
func Dial(address string, opts ...grpc.DialOption) (*Transport, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpcDialer(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lens server: %w", err)
	}
	return &Transport{conn: conn, closer: conn.Close}, nil
}

// New wraps an existing connection. The caller keeps ownership of conn.
func New(conn grpc.ClientConnInterface) *Transport {
	return &Transport{conn: conn}
}

func (t *Transport) Call(ctx context.Context, target, method string, payload []byte) ([]byte, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, mdTarget, target, mdMethod, method)
	out := new(frame)
	if err := t.conn.Invoke(ctx, callMethod, &frame{data: payload}, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, translateError(err)
	}
	return out.data, nil
}

// Close closes a connection created by Dial.
func (t *Transport) Close() error {
	if t.closer != nil {
		return t.closer()
	}
	return nil
}

// translateError converts gRPC status errors to lens errors.
func translateError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", lens.ErrUnknownTarget, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", lens.ErrUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	default:
		return err
	}
}

// handler is implemented by Server; grpc checks registered services
// against it.
type handler interface {
	call(ctx context.Context, in *frame) (*frame, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lens.go",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(handler)
	if interceptor == nil {
		return h.call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return h.call(ctx, req.(*frame))
	})
}

// Server routes gRPC lens calls to lens.Servers by target.
type Server struct {
	mu      sync.RWMutex
	targets map[string]*lens.Server
	logger  *slog.Logger
}

// NewServer creates a Server with no targets.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		targets: make(map[string]*lens.Server),
		logger:  logger.With("component", "lens-grpc"),
	}
}

// Register serves target with srv.
func (s *Server) Register(target string, srv *lens.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[target] = srv
}

// Attach registers the lens service on gs.
func (s *Server) Attach(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

var errMissingMetadata = errors.New("missing lens metadata")

func (s *Server) call(ctx context.Context, in *frame) (*frame, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	target, method := first(md, mdTarget), first(md, mdMethod)
	if target == "" || method == "" {
		return nil, status.Error(codes.InvalidArgument, errMissingMetadata.Error())
	}

	s.mu.RLock()
	srv, ok := s.targets[target]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("lens call for unknown target", "target", target, "method", method)
		return nil, status.Errorf(codes.NotFound, "unknown target %q", target)
	}
	return &frame{data: srv.Dispatch(ctx, method, in.data)}, nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
