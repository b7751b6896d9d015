package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/config"
	"github.com/syntrixbase/chunkdex/internal/gateway"
	"github.com/syntrixbase/chunkdex/internal/indexer"
	ixconfig "github.com/syntrixbase/chunkdex/internal/indexer/config"
	"github.com/syntrixbase/chunkdex/internal/lens"
	"github.com/syntrixbase/chunkdex/internal/lens/grpc_transport"
	"github.com/syntrixbase/chunkdex/internal/lens/nats_transport"
	"github.com/syntrixbase/chunkdex/internal/remote"
	"github.com/syntrixbase/chunkdex/internal/store"
	"github.com/syntrixbase/chunkdex/internal/store/mem_store"
	"github.com/syntrixbase/chunkdex/internal/store/mongo_store"
	"github.com/syntrixbase/chunkdex/internal/store/persist_store"
	"github.com/syntrixbase/chunkdex/internal/store/pg_store"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
)

var backendFactory = func(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return mem_store.New(), nil
	case config.BackendPebble:
		pc := cfg.Pebble
		pc.Logger = logger
		return persist_store.NewPebbleStore(pc)
	case config.BackendMongo:
		mc := cfg.Mongo
		mc.Logger = logger
		return mongo_store.Open(ctx, mc)
	case config.BackendPostgres:
		pc := cfg.Postgres
		pc.Logger = logger
		return pg_store.Open(ctx, pc, cfg.Partitions)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

var natsTransportFactory = func(cfg config.NATSConfig) (*nats_transport.Transport, error) {
	return nats_transport.Connect(cfg.URL, nats.Name("chunkdex"), nats.DrainTimeout(cfg.DrainTimeout))
}

var grpcTransportFactory = func(address string) (*grpc_transport.Transport, error) {
	return grpc_transport.Dial(address)
}

func (m *Manager) Init(ctx context.Context) error {
	if err := m.initStore(ctx); err != nil {
		return err
	}
	if err := m.initTransports(); err != nil {
		return err
	}
	if m.opts.RunIndexers {
		for _, cfg := range m.cfg.Indexers {
			if err := m.initIndexer(cfg); err != nil {
				return err
			}
		}
	}
	if m.opts.RunGateway && m.cfg.Gateway.Listen != "" {
		m.gateway = gateway.NewServer(m.cfg.Gateway, slog.Default())
	}
	return nil
}

func (m *Manager) initStore(ctx context.Context) error {
	backend, err := backendFactory(ctx, m.cfg.Store, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", m.cfg.Store.Backend, err)
	}
	s, err := store.New(backend, store.Options{Partitions: m.cfg.Store.Partitions})
	if err != nil {
		backend.Close()
		return err
	}
	m.store = s
	m.logger.Info("keyed store opened", "backend", m.cfg.Store.Backend, "partitions", m.cfg.Store.Partitions)
	return nil
}

func (m *Manager) initTransports() error {
	lc := m.cfg.Lens
	if lc.NATS.URL != "" {
		t, err := natsTransportFactory(lc.NATS)
		if err != nil {
			return err
		}
		m.natsT = t
		m.logger.Info("connected to nats", "url", lc.NATS.URL)
	}
	if lc.GRPC.Address != "" {
		t, err := grpcTransportFactory(lc.GRPC.Address)
		if err != nil {
			return err
		}
		m.grpcT = t
	}
	if lc.GRPC.Listen != "" {
		m.grpcServer = grpc.NewServer()
		m.lensGRPC = grpc_transport.NewServer(slog.Default())
		m.lensGRPC.Attach(m.grpcServer)
	}
	return nil
}

func (m *Manager) sourceTransport(kind string) (lens.Transport, error) {
	switch kind {
	case ixconfig.SourceNATS:
		if m.natsT != nil {
			return m.natsT, nil
		}
	case ixconfig.SourceGRPC:
		if m.grpcT != nil {
			return m.grpcT, nil
		}
	}
	return nil, fmt.Errorf("no lens transport for source kind %q", kind)
}

// initIndexer builds a configured indexer: a Data to Data indexer persisting
// into its partition and fetching from a remote upstream indexer.
func (m *Manager) initIndexer(cfg ixconfig.Config) error {
	t, err := m.sourceTransport(cfg.Source.Kind)
	if err != nil {
		return fmt.Errorf("indexer %q: %w", cfg.Name, err)
	}
	sink, err := indexer.NewStoreSink[codec.Data](m.store, store.PartitionID(cfg.Partition), codec.DataCodec{})
	if err != nil {
		return fmt.Errorf("indexer %q: %w", cfg.Name, err)
	}
	client := remote.NewClient(t, cfg.Source.Target, cfg.Source.Method, lens.FinderOptions{
		Timeout: cfg.Source.Timeout,
		Logger:  slog.Default(),
	})

	ix, err := indexer.New(indexer.Options[codec.Data, codec.Data]{
		Config:  &cfg,
		Sink:    sink,
		Fetch:   client.Fetcher(),
		Convert: passThrough,
		Codec:   codec.DataCodec{},
		Logger:  slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("indexer %q: %w", cfg.Name, err)
	}
	return m.Register(Entry{Runner: ix, Source: ix, Serve: cfg.Serve})
}

func passThrough(_ uint64, d codec.Data) (codec.Data, error) {
	return d, nil
}
