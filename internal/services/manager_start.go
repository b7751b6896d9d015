package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/syntrixbase/chunkdex/internal/lens"
	"github.com/syntrixbase/chunkdex/internal/lens/nats_transport"
	"github.com/syntrixbase/chunkdex/internal/remote"
)

// Start exposes every entry over the gateway and lens transports, starts the
// listeners and runs the indexer loops in the background.
func (m *Manager) Start(ctx context.Context) error {
	if m.store == nil {
		return ErrNotInitialized
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	for _, e := range m.entries {
		name := e.Runner.Name()
		if e.Source != nil && m.gateway != nil {
			m.gateway.Register(name, e.Source)
		}
		if e.Serve {
			if err := m.serve(name, e.Source); err != nil {
				return err
			}
		}
	}

	if m.grpcServer != nil {
		lis, err := net.Listen("tcp", m.cfg.Lens.GRPC.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", m.cfg.Lens.GRPC.Listen, err)
		}
		m.grpcAddr = lis.Addr().String()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.logger.Info("lens gRPC listening", "addr", m.grpcAddr)
			if err := m.grpcServer.Serve(lis); err != nil {
				m.logger.Error("lens gRPC server stopped", "error", err)
			}
		}()
	}

	if m.gateway != nil {
		if err := m.gateway.Start(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	for _, e := range m.entries {
		m.wg.Add(1)
		go func(r Runner) {
			defer m.wg.Done()
			if err := r.Run(runCtx); err != nil {
				m.logger.Error("indexer stopped with error", "indexer", r.Name(), "error", err)
			}
		}(e.Runner)
	}
	m.logger.Info("services started", "indexers", len(m.entries))
	return nil
}

// serve answers get_by_range, get_latest and get_last_indexed for name on
// every configured lens transport.
func (m *Manager) serve(name string, src remote.QuerySource) error {
	srv := lens.NewServer(slog.Default())
	remote.Expose(srv, src)

	if m.natsT != nil && m.natsT.Conn() != nil {
		sub, err := nats_transport.Serve(m.natsT.Conn(), name, srv, slog.Default())
		if err != nil {
			return err
		}
		m.subs = append(m.subs, sub)
	}
	if m.lensGRPC != nil {
		m.lensGRPC.Register(name, srv)
	}
	return nil
}
