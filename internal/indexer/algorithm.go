package indexer

import (
	"fmt"
	"log/slog"

	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/indexer/config"
)

// AlgorithmOptions configures an indexer whose windows are handed to
// application code instead of a store partition.
type AlgorithmOptions[R, E any] struct {
	Config  *config.Config
	Fetch   Fetcher[R]
	Convert Converter[R, E]

	// Persist is called once per successful step with the whole window.
	Persist PersistFunc[E]

	// Cursor reports the application's durable position. Optional.
	Cursor CursorFunc

	Codec  codec.Codec[E]
	Logger *slog.Logger
}

// NewAlgorithm creates an Indexer backed by a CallbackSink.
func NewAlgorithm[R, E any](opts AlgorithmOptions[R, E]) (*Indexer[R, E], error) {
	if opts.Persist == nil {
		return nil, fmt.Errorf("%w: persist is required", ErrInvalidConfig)
	}
	return New(Options[R, E]{
		Config:  opts.Config,
		Sink:    NewCallbackSink(opts.Persist, opts.Cursor),
		Fetch:   opts.Fetch,
		Convert: opts.Convert,
		Codec:   opts.Codec,
		Logger:  opts.Logger,
	})
}
