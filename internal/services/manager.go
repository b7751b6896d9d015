// Package services wires the store, the lens transports, the configured
// indexers and the HTTP gateway into one process.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syntrixbase/chunkdex/internal/config"
	"github.com/syntrixbase/chunkdex/internal/gateway"
	"github.com/syntrixbase/chunkdex/internal/lens/grpc_transport"
	"github.com/syntrixbase/chunkdex/internal/lens/nats_transport"
	"github.com/syntrixbase/chunkdex/internal/remote"
	"github.com/syntrixbase/chunkdex/internal/store"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
)

var (
	ErrDuplicateIndexer = errors.New("duplicate indexer name")
	ErrAlreadyStarted   = errors.New("manager already started")
	ErrNotInitialized   = errors.New("manager is not initialized")
)

type Options struct {
	RunGateway  bool
	RunIndexers bool
}

// Runner is an indexer loop the manager runs until shutdown.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry is one indexer managed by the process. Source is nil for indexers
// whose sink cannot be queried.
type Entry struct {
	Runner Runner
	Source remote.QuerySource
	Serve  bool
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store   *store.Store
	natsT   *nats_transport.Transport
	grpcT   *grpc_transport.Transport
	entries []Entry
	names   map[string]bool

	grpcServer *grpc.Server
	lensGRPC   *grpc_transport.Server
	grpcAddr   string
	subs       []*nats.Subscription
	gateway    *gateway.Server

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "services"),
		names:  make(map[string]bool),
	}
}

// Store returns the keyed store opened by Init.
func (m *Manager) Store() *store.Store {
	return m.store
}

// GatewayAddr returns the gateway listening address once started.
func (m *Manager) GatewayAddr() string {
	if m.gateway == nil {
		return ""
	}
	return m.gateway.Addr()
}

// LensAddr returns the gRPC lens listening address once started.
func (m *Manager) LensAddr() string {
	return m.grpcAddr
}

// Register adds an indexer built in code. It must be called between Init
// and Start.
func (m *Manager) Register(e Entry) error {
	if m.store == nil {
		return ErrNotInitialized
	}
	if m.started {
		return ErrAlreadyStarted
	}
	if e.Runner == nil {
		return fmt.Errorf("register: runner is required")
	}
	if e.Serve && e.Source == nil {
		return fmt.Errorf("register %q: serving requires a query source", e.Runner.Name())
	}
	name := e.Runner.Name()
	if m.names[name] {
		return fmt.Errorf("%w: %q", ErrDuplicateIndexer, name)
	}
	m.names[name] = true
	m.entries = append(m.entries, e)
	return nil
}
