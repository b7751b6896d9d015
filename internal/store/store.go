package store

import (
	"fmt"
	"log/slog"
	"sync"
)

// Shape is the kind of entries a partition holds.
type Shape int

const (
	ShapeSingle Shape = iota + 1 // id -> Data
	ShapeMulti                   // id -> Values
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "key-value"
	case ShapeMulti:
		return "key-values"
	default:
		return "unknown"
	}
}

// Options configures a Store.
type Options struct {
	// Partitions is the number of pre-allocated partitions; valid ids are 1..Partitions.
	Partitions int

	Logger *slog.Logger
}

// Store is the partition registry over a Backend. Each partition is bound to
// exactly one typed shape for the life of the process.
type Store struct {
	backend    Backend
	partitions int
	logger     *slog.Logger

	mu    sync.Mutex
	bound map[PartitionID]*partition
}

// New creates a Store over backend.
func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if opts.Partitions <= 0 {
		return nil, fmt.Errorf("%w: partitions must be positive, got %d", ErrInvalidConfig, opts.Partitions)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:    backend,
		partitions: opts.Partitions,
		logger:     logger.With("component", "keyed-store"),
		bound:      make(map[PartitionID]*partition),
	}, nil
}

// Partitions returns the number of declared partitions.
func (s *Store) Partitions() int {
	return s.partitions
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// ValidatePartition rejects 0 and ids beyond the declared range.
func (s *Store) ValidatePartition(p PartitionID) error {
	if p == 0 || int(p) > s.partitions {
		return fmt.Errorf("%w: %d (declared 1..%d)", ErrInvalidPartition, p, s.partitions)
	}
	return nil
}

func (s *Store) bind(p PartitionID, shape Shape) (*partition, error) {
	if err := s.ValidatePartition(p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bound[p]; ok {
		return nil, fmt.Errorf("%w: partition %d holds %s", ErrPartitionBound, p, existing.shape)
	}
	part := &partition{id: p, shape: shape, backend: s.backend}
	s.bound[p] = part
	s.logger.Debug("partition bound", "partition", p, "shape", shape.String())
	return part, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// partition caches the high-water mark (greatest id) of one partition.
// Entries are never deleted, so a write can only raise it.
type partition struct {
	id      PartitionID
	shape   Shape
	backend Backend

	mu        sync.Mutex
	hwm       string
	hwmLoaded bool
	hwmFound  bool

	// rmw serializes read-modify-write sequences such as KeyValues.Insert.
	rmw sync.Mutex
}

func (p *partition) get(id string) ([]byte, bool, error) {
	return p.backend.Get(p.id, id)
}

func (p *partition) apply(entries []Entry[[]byte]) error {
	if len(entries) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.backend.Apply(p.id, entries); err != nil {
		return err
	}
	if p.hwmLoaded {
		for _, e := range entries {
			if !p.hwmFound || e.ID > p.hwm {
				p.hwm = e.ID
				p.hwmFound = true
			}
		}
	}
	return nil
}

func (p *partition) rangeScan(from, to string) ([]Entry[[]byte], error) {
	if from >= to {
		return nil, nil
	}
	return p.backend.Range(p.id, from, to)
}

func (p *partition) last(n int) ([]Entry[[]byte], error) {
	if n <= 0 {
		return nil, nil
	}
	return p.backend.Last(p.id, n)
}

func (p *partition) descend(fn func(Entry[[]byte]) bool) error {
	return p.backend.Descend(p.id, fn)
}

// lastID returns the greatest id in the partition, loading it from the
// backend on first use.
func (p *partition) lastID() (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hwmLoaded {
		id, found, err := p.backend.Max(p.id)
		if err != nil {
			return "", false, err
		}
		p.hwm, p.hwmFound, p.hwmLoaded = id, found, true
	}
	return p.hwm, p.hwmFound, nil
}
