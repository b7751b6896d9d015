// Package gateway serves the HTTP read API over registered indexers, plus
// /metrics and /healthz.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/chunkdex/internal/config"
	"github.com/syntrixbase/chunkdex/internal/remote"
)

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "chunkdex_gateway_requests_total",
	Help: "The total number of gateway requests by route and status",
}, []string{"route", "status"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Server is the HTTP gateway.
type Server struct {
	cfg    config.GatewayConfig
	logger *slog.Logger
	mux    *http.ServeMux

	mu      sync.RWMutex
	sources map[string]remote.QuerySource

	srv      *http.Server
	listener net.Listener
	done     chan error
}

// NewServer creates a gateway with no indexers.
func NewServer(cfg config.GatewayConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		mux:     http.NewServeMux(),
		sources: make(map[string]remote.QuerySource),
	}
	s.registerRoutes()
	return s
}

// Register makes src queryable under name.
func (s *Server) Register(name string, src remote.QuerySource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = src
}

func (s *Server) lookup(name string) (remote.QuerySource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[name]
	return src, ok
}

func (s *Server) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sources))
	for n := range s.sources {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /v1/indexers", s.instrument("list", s.handleList))
	s.mux.HandleFunc("GET /v1/indexers/{name}/range", s.instrument("range", s.handleRange))
	s.mux.HandleFunc("GET /v1/indexers/{name}/latest", s.instrument("latest", s.handleLatest))
	s.mux.HandleFunc("GET /v1/indexers/{name}/last-indexed", s.instrument("last_indexed", s.handleLastIndexed))
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = lis
	s.srv = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.done = make(chan error, 1)

	go func() {
		err := s.srv.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.logger.Info("gateway listening", "addr", lis.Addr().String())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-s.done
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		requestsTotal.WithLabelValues(route, fmt.Sprint(rec.status)).Inc()
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	}
}
