// Package mem_store provides an in-memory Keyed Store backend.
package mem_store

import (
	"sync"

	"github.com/google/btree"
	"github.com/syntrixbase/chunkdex/internal/store"
)

type item struct {
	id    string
	value []byte
}

func lessFunc(a, b item) bool {
	return a.id < b.id
}

// Store keeps one btree per partition. Values are copied on the way in and
// on the way out.
type Store struct {
	mu     sync.RWMutex
	trees  map[store.PartitionID]*btree.BTreeG[item]
	closed bool
}

var _ store.Backend = (*Store)(nil)

// New creates an empty in-memory backend.
func New() *Store {
	return &Store{trees: make(map[store.PartitionID]*btree.BTreeG[item])}
}

func (s *Store) tree(p store.PartitionID) *btree.BTreeG[item] {
	return s.trees[p]
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (s *Store) Get(p store.PartitionID, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, store.ErrClosed
	}
	t := s.tree(p)
	if t == nil {
		return nil, false, nil
	}
	it, ok := t.Get(item{id: id})
	if !ok {
		return nil, false, nil
	}
	return clone(it.value), true, nil
}

// Apply upserts all entries under a single lock.
func (s *Store) Apply(p store.PartitionID, entries []store.Entry[[]byte]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	t := s.tree(p)
	if t == nil {
		t = btree.NewG[item](32, lessFunc)
		s.trees[p] = t
	}
	for _, e := range entries {
		t.ReplaceOrInsert(item{id: e.ID, value: clone(e.Value)})
	}
	return nil
}

// Range returns [from, to); an empty to means unbounded.
func (s *Store) Range(p store.PartitionID, from, to string) ([]store.Entry[[]byte], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	var out []store.Entry[[]byte]
	t := s.tree(p)
	if t == nil {
		return out, nil
	}
	visit := func(it item) bool {
		out = append(out, store.Entry[[]byte]{ID: it.id, Value: clone(it.value)})
		return true
	}
	if to == "" {
		t.AscendGreaterOrEqual(item{id: from}, visit)
	} else {
		t.AscendRange(item{id: from}, item{id: to}, visit)
	}
	return out, nil
}

func (s *Store) Last(p store.PartitionID, n int) ([]store.Entry[[]byte], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	t := s.tree(p)
	if t == nil || n <= 0 {
		return nil, nil
	}
	out := make([]store.Entry[[]byte], 0, min(n, t.Len()))
	t.Descend(func(it item) bool {
		out = append(out, store.Entry[[]byte]{ID: it.id, Value: clone(it.value)})
		return len(out) < n
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Max(p store.PartitionID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, store.ErrClosed
	}
	t := s.tree(p)
	if t == nil {
		return "", false, nil
	}
	it, ok := t.Max()
	if !ok {
		return "", false, nil
	}
	return it.id, true, nil
}

func (s *Store) Descend(p store.PartitionID, fn func(store.Entry[[]byte]) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrClosed
	}
	t := s.tree(p)
	if t == nil {
		return nil
	}
	t.Descend(func(it item) bool {
		return fn(store.Entry[[]byte]{ID: it.id, Value: clone(it.value)})
	})
	return nil
}

// Len returns the number of ids in partition p.
func (s *Store) Len(p store.PartitionID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.tree(p); t != nil {
		return t.Len()
	}
	return 0
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.trees = make(map[store.PartitionID]*btree.BTreeG[item])
	return nil
}
