package indexer

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/syntrixbase/chunkdex/internal/codec"
	"github.com/syntrixbase/chunkdex/internal/store"
)

// Sink receives converted windows. The highest position a sink has stored
// is the indexer's cursor.
type Sink[E any] interface {
	// LastIndexed returns the highest stored position, or found=false.
	LastIndexed() (pos uint64, found bool, err error)

	// Persist stores every bucket, overwriting existing ones. Buckets may be
	// empty; an empty bucket still marks its position as covered.
	Persist(ctx context.Context, buckets map[uint64][]E) error
}

// Querier is implemented by sinks that can serve reads back.
type Querier[E any] interface {
	// Range returns non-empty buckets with from <= position < to.
	Range(from, to uint64) (map[uint64][]E, error)

	// Latest returns the last n events grouped by position.
	Latest(n int) (map[uint64][]E, error)
}

// StoreSink persists buckets into a KeyValues partition keyed by PositionID.
type StoreSink[E any] struct {
	kv *store.KeyValues[E]
}

var (
	_ Sink[codec.Data]    = (*StoreSink[codec.Data])(nil)
	_ Querier[codec.Data] = (*StoreSink[codec.Data])(nil)
)

// NewStoreSink binds partition p of s for events encoded by c.
func NewStoreSink[E any](s *store.Store, p store.PartitionID, c codec.Codec[E]) (*StoreSink[E], error) {
	kv, err := store.BindKeyValues(s, p, c)
	if err != nil {
		return nil, err
	}
	return &StoreSink[E]{kv: kv}, nil
}

// Partition returns the bound partition.
func (s *StoreSink[E]) Partition() store.PartitionID {
	return s.kv.Partition()
}

func (s *StoreSink[E]) LastIndexed() (uint64, bool, error) {
	id, found, err := s.kv.LastID()
	if err != nil || !found {
		return 0, false, err
	}
	pos, err := codec.ParsePositionID(id)
	if err != nil {
		return 0, false, fmt.Errorf("partition %d: %w", s.kv.Partition(), err)
	}
	return pos, true, nil
}

// Persist writes all buckets in ascending position order with one SetMany.
func (s *StoreSink[E]) Persist(_ context.Context, buckets map[uint64][]E) error {
	positions := sortedPositions(buckets)
	entries := make([]store.Entry[[]E], len(positions))
	for i, pos := range positions {
		events := buckets[pos]
		if events == nil {
			events = []E{}
		}
		entries[i] = store.Entry[[]E]{ID: codec.PositionID(pos), Value: events}
	}
	return s.kv.SetMany(entries)
}

func (s *StoreSink[E]) Range(from, to uint64) (map[uint64][]E, error) {
	out := make(map[uint64][]E)
	if from >= to {
		return out, nil
	}
	entries, err := s.kv.Between(codec.PositionID(from), codec.PositionID(to))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if len(e.Value) == 0 {
			continue
		}
		pos, err := codec.ParsePositionID(e.ID)
		if err != nil {
			return nil, err
		}
		out[pos] = e.Value
	}
	return out, nil
}

func (s *StoreSink[E]) Latest(n int) (map[uint64][]E, error) {
	out := make(map[uint64][]E)
	elems, err := s.kv.LastElems(n)
	if err != nil {
		return nil, err
	}
	for _, e := range elems {
		pos, err := codec.ParsePositionID(e.ID)
		if err != nil {
			return nil, err
		}
		out[pos] = append(out[pos], e.Value)
	}
	return out, nil
}

// PersistFunc receives each converted window.
type PersistFunc[E any] func(ctx context.Context, buckets map[uint64][]E) error

// CursorFunc reports the application's last indexed position.
type CursorFunc func() (pos uint64, found bool, err error)

// CallbackSink hands windows to application code. Without a CursorFunc it
// tracks the highest persisted position in memory, so the cursor restarts
// from start_from after a restart.
type CallbackSink[E any] struct {
	persist PersistFunc[E]
	cursor  CursorFunc

	mu    sync.Mutex
	last  uint64
	found bool
}

var _ Sink[codec.Data] = (*CallbackSink[codec.Data])(nil)

// NewCallbackSink creates a sink around persist. cursor may be nil.
func NewCallbackSink[E any](persist PersistFunc[E], cursor CursorFunc) *CallbackSink[E] {
	return &CallbackSink[E]{persist: persist, cursor: cursor}
}

func (s *CallbackSink[E]) LastIndexed() (uint64, bool, error) {
	if s.cursor != nil {
		return s.cursor()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.found, nil
}

func (s *CallbackSink[E]) Persist(ctx context.Context, buckets map[uint64][]E) error {
	if err := s.persist(ctx, buckets); err != nil {
		return err
	}
	if s.cursor != nil || len(buckets) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for pos := range buckets {
		if !s.found || pos > s.last {
			s.last, s.found = pos, true
		}
	}
	return nil
}

func sortedPositions[E any](buckets map[uint64][]E) []uint64 {
	positions := make([]uint64, 0, len(buckets))
	for pos := range buckets {
		positions = append(positions, pos)
	}
	slices.Sort(positions)
	return positions
}
