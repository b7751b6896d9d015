// Package lens provides typed request/response calls to named methods on
// remote targets, and the server-side dispatcher that answers them.
//
// Payloads are BSON documents:
//
//	request:  {id: <uuid>, args: <A>}
//	response: {ok: <bool>, error: <string>, result: <R>}
//
// The transport only moves bytes; nats_transport and grpc_transport provide
// network transports and Local serves in-process targets.
package lens

import (
	"context"
	"errors"
	"fmt"
)

// Transport delivers one request payload to target/method and returns the
// response payload.
type Transport interface {
	Call(ctx context.Context, target, method string, payload []byte) ([]byte, error)
}

var (
	ErrUnavailable   = errors.New("lens target unavailable")
	ErrUnknownTarget = errors.New("unknown lens target")
	ErrBadEnvelope   = errors.New("malformed lens envelope")
)

// RemoteError is a failure reported by the remote handler.
type RemoteError struct {
	Target  string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("lens %s.%s: %s", e.Target, e.Method, e.Message)
}

type request[A any] struct {
	ID   string `bson:"id"`
	Args A      `bson:"args"`
}

type response[R any] struct {
	OK     bool   `bson:"ok"`
	Error  string `bson:"error,omitempty"`
	Result R      `bson:"result,omitempty"`
}
