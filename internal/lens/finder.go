package lens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// FinderOptions configures a Finder.
type FinderOptions struct {
	// Timeout bounds each call when the caller's context has no deadline.
	Timeout time.Duration

	Logger *slog.Logger
}

// Finder calls one remote method with typed arguments and result. It keeps
// no state and does not retry.
type Finder[A, R any] struct {
	transport Transport
	target    string
	method    string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewFinder creates a Finder for target/method.
func NewFinder[A, R any](t Transport, target, method string, opts FinderOptions) *Finder[A, R] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder[A, R]{
		transport: t,
		target:    target,
		method:    method,
		timeout:   opts.Timeout,
		logger:    logger.With("component", "lens-finder", "target", target, "method", method),
	}
}

// Target returns the remote target name.
func (f *Finder[A, R]) Target() string {
	return f.target
}

// Method returns the remote method name.
func (f *Finder[A, R]) Method() string {
	return f.method
}

// Find calls the remote method. Failures reported by the remote handler are
// returned as *RemoteError; transport failures are wrapped.
func (f *Finder[A, R]) Find(ctx context.Context, args A) (R, error) {
	var zero R

	if _, ok := ctx.Deadline(); !ok && f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	payload, err := bson.Marshal(request[A]{ID: id, Args: args})
	if err != nil {
		return zero, fmt.Errorf("lens %s.%s: failed to encode args: %w", f.target, f.method, err)
	}

	start := time.Now()
	raw, err := f.transport.Call(ctx, f.target, f.method, payload)
	if err != nil {
		f.logger.Debug("lens call failed", "request_id", id, "error", err)
		return zero, fmt.Errorf("lens %s.%s: %w", f.target, f.method, err)
	}

	var resp response[bson.RawValue]
	if err := bson.Unmarshal(raw, &resp); err != nil {
		return zero, fmt.Errorf("lens %s.%s: %w: %v", f.target, f.method, ErrBadEnvelope, err)
	}
	if !resp.OK {
		return zero, &RemoteError{Target: f.target, Method: f.method, Message: resp.Error}
	}

	var result R
	if resp.Result.Type != 0 {
		if err := resp.Result.Unmarshal(&result); err != nil {
			return zero, fmt.Errorf("lens %s.%s: failed to decode result: %w", f.target, f.method, err)
		}
	}
	f.logger.Debug("lens call", "request_id", id, "duration", time.Since(start))
	return result, nil
}

// FindUnwrap is Find for callers that treat any failure as fatal. It panics
// on error.
func (f *Finder[A, R]) FindUnwrap(ctx context.Context, args A) R {
	r, err := f.Find(ctx, args)
	if err != nil {
		panic(err)
	}
	return r
}
