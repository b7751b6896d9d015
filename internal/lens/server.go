package lens

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// HandlerFunc answers one method. args is the raw "args" value of the
// request; the returned result must be BSON-encodable.
type HandlerFunc func(ctx context.Context, args bson.RawValue) (any, error)

// Server dispatches request payloads to registered methods.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewServer creates an empty Server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With("component", "lens-server"),
	}
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Register registers a typed handler for method.
func Register[A, R any](s *Server, method string, fn func(ctx context.Context, args A) (R, error)) {
	s.Handle(method, func(ctx context.Context, raw bson.RawValue) (any, error) {
		var args A
		if raw.Type != 0 {
			if err := raw.Unmarshal(&args); err != nil {
				return nil, fmt.Errorf("invalid args: %w", err)
			}
		}
		return fn(ctx, args)
	})
}

// Methods returns the registered method names, sorted.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Dispatch runs the handler for method and returns the response envelope.
// It never fails: every error is reported inside the envelope.
func (s *Server) Dispatch(ctx context.Context, method string, payload []byte) []byte {
	var req request[bson.RawValue]
	if err := bson.Unmarshal(payload, &req); err != nil {
		return s.failure(fmt.Sprintf("malformed request: %v", err))
	}
	logger := s.logger.With("method", method, "request_id", req.ID)

	s.mu.RLock()
	h, ok := s.handlers[method]
	s.mu.RUnlock()
	if !ok {
		logger.Warn("unknown lens method")
		return s.failure(fmt.Sprintf("unknown method %q", method))
	}

	result, err := s.call(ctx, h, req.Args)
	if err != nil {
		logger.Debug("lens handler failed", "error", err)
		return s.failure(err.Error())
	}

	out, err := bson.Marshal(response[any]{OK: true, Result: result})
	if err != nil {
		logger.Error("failed to encode lens result", "error", err)
		return s.failure(fmt.Sprintf("failed to encode result: %v", err))
	}
	return out
}

func (s *Server) call(ctx context.Context, h HandlerFunc, args bson.RawValue) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, args)
}

func (s *Server) failure(msg string) []byte {
	out, err := bson.Marshal(response[any]{OK: false, Error: msg})
	if err != nil {
		// a struct of a bool and a string always encodes
		panic(err)
	}
	return out
}

// Local is an in-process Transport over registered Servers.
type Local struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

var _ Transport = (*Local)(nil)

// NewLocal creates an empty in-process transport.
func NewLocal() *Local {
	return &Local{servers: make(map[string]*Server)}
}

// Register serves target with srv.
func (l *Local) Register(target string, srv *Server) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.servers[target] = srv
}

func (l *Local) Call(ctx context.Context, target, method string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	srv, ok := l.servers[target]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	return srv.Dispatch(ctx, method, payload), nil
}
