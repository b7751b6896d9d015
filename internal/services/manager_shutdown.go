package services

import (
	"context"
	"errors"
)

// Shutdown stops the indexer loops and listeners, then closes the
// transports and the store.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	if m.cancel != nil {
		m.cancel()
	}

	if m.gateway != nil {
		m.logger.Info("Stopping gateway...")
		if err := m.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn("Error unsubscribing lens target", "subject", sub.Subject, "error", err)
		}
	}

	if m.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			m.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			m.grpcServer.Stop()
		}
	}

	m.logger.Info("Waiting for indexers to finish...")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Indexers finished.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for indexers")
		errs = append(errs, ctx.Err())
	}

	if m.natsT != nil {
		// Drain closes the connection once in-flight replies are flushed.
		if nc := m.natsT.Conn(); nc != nil && len(m.subs) > 0 {
			if err := nc.Drain(); err != nil {
				m.logger.Warn("Error draining nats connection", "error", err)
				m.natsT.Close()
			}
		} else if err := m.natsT.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.grpcT != nil {
		if err := m.grpcT.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.Error("Error closing store", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
