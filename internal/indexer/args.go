package indexer

import (
	"context"
	"fmt"
	"sync"
)

// ArgsFetcher is a Fetcher that also receives the current args bundle.
type ArgsFetcher[A, R any] func(ctx context.Context, from, to uint64, args A) (map[uint64][]R, error)

// ArgsOptions configures an ArgsIndexer. Options.Fetch must be left nil.
type ArgsOptions[A, R, E any] struct {
	Options[R, E]

	Fetch ArgsFetcher[A, R]
	Args  A
}

// ArgsIndexer is an Indexer whose fetcher takes an args bundle that can be
// changed independently of the cursor.
type ArgsIndexer[A, R, E any] struct {
	*Indexer[R, E]

	argsMu sync.RWMutex
	args   A
}

// NewWithArgs creates an ArgsIndexer.
func NewWithArgs[A, R, E any](opts ArgsOptions[A, R, E]) (*ArgsIndexer[A, R, E], error) {
	if opts.Fetch == nil {
		return nil, fmt.Errorf("%w: fetch is required", ErrInvalidConfig)
	}
	if opts.Options.Fetch != nil {
		return nil, fmt.Errorf("%w: set ArgsOptions.Fetch, not Options.Fetch", ErrInvalidConfig)
	}

	ai := &ArgsIndexer[A, R, E]{args: opts.Args}
	base := opts.Options
	base.Fetch = func(ctx context.Context, from, to uint64) (map[uint64][]R, error) {
		return opts.Fetch(ctx, from, to, ai.Args())
	}

	ix, err := New(base)
	if err != nil {
		return nil, err
	}
	ai.Indexer = ix
	return ai, nil
}

// Args returns the current args bundle.
func (ai *ArgsIndexer[A, R, E]) Args() A {
	ai.argsMu.RLock()
	defer ai.argsMu.RUnlock()
	return ai.args
}

// SetArgs replaces the args bundle. A step already in flight keeps the
// bundle it started with.
func (ai *ArgsIndexer[A, R, E]) SetArgs(args A) {
	ai.argsMu.Lock()
	ai.args = args
	ai.argsMu.Unlock()

	_, _, logger, _ := ai.state()
	logger.Info("indexer args updated")
}
