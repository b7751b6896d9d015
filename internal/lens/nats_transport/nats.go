// Package nats_transport carries lens calls over NATS request/reply. A call
// to target/method is a request on subject "{target}.{method}"; servers
// queue-subscribe "{target}.*" so several replicas can share a target.
package nats_transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/syntrixbase/chunkdex/internal/lens"
)

// natsConnectFunc allows test injection
var natsConnectFunc = nats.Connect

// requester is the part of *nats.Conn used by Transport.
type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// subscriber is the part of *nats.Conn used by Serve.
type subscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Subject returns the request subject for target/method.
func Subject(target, method string) string {
	return target + "." + method
}

// Transport is a lens.Transport over a NATS connection.
type Transport struct {
	conn  requester
	owned *nats.Conn
}

var _ lens.Transport = (*Transport)(nil)

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn) *Transport {
	return &Transport{conn: nc}
}

// Connect dials url (nats.DefaultURL when empty) and returns a Transport
// that owns the connection.
func Connect(url string, opts ...nats.Option) (*Transport, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := natsConnectFunc(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &Transport{conn: nc, owned: nc}, nil
}

// Conn returns the underlying connection when the Transport owns one.
func (t *Transport) Conn() *nats.Conn {
	return t.owned
}

func (t *Transport) Call(ctx context.Context, target, method string, payload []byte) ([]byte, error) {
	msg, err := t.conn.RequestWithContext(ctx, Subject(target, method), payload)
	if err != nil {
		return nil, translateError(err)
	}
	return msg.Data, nil
}

// Close closes an owned connection.
func (t *Transport) Close() error {
	if t.owned != nil {
		t.owned.Close()
	}
	return nil
}

func translateError(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return fmt.Errorf("%w: %v", lens.ErrUnavailable, err)
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return fmt.Errorf("%w: %v", lens.ErrUnavailable, err)
	default:
		return err
	}
}

// Serve answers lens calls for target with srv until the returned
// subscription is unsubscribed or the connection closes.
func Serve(nc *nats.Conn, target string, srv *lens.Server, logger *slog.Logger) (*nats.Subscription, error) {
	return serve(nc, target, srv, logger)
}

func serve(conn subscriber, target string, srv *lens.Server, logger *slog.Logger) (*nats.Subscription, error) {
	if target == "" || strings.ContainsAny(target, "*> ") {
		return nil, fmt.Errorf("invalid lens target %q", target)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lens-nats", "target", target)

	sub, err := conn.QueueSubscribe(target+".*", target, func(m *nats.Msg) {
		out := handle(context.Background(), target, srv, m.Subject, m.Data)
		if err := m.Respond(out); err != nil {
			logger.Warn("failed to respond to lens call", "subject", m.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe lens target %s: %w", target, err)
	}
	logger.Info("serving lens target")
	return sub, nil
}

// handle dispatches one request message to srv.
func handle(ctx context.Context, target string, srv *lens.Server, subject string, data []byte) []byte {
	method := strings.TrimPrefix(subject, target+".")
	return srv.Dispatch(ctx, method, data)
}
