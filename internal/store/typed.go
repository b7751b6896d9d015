package store

import (
	"fmt"

	"github.com/syntrixbase/chunkdex/internal/codec"
)

// KeyValue is a partition holding one record per id.
type KeyValue[T any] struct {
	part  *partition
	codec codec.Codec[T]
}

// BindKeyValue binds partition p to the single-value shape for T.
func BindKeyValue[T any](s *Store, p PartitionID, c codec.Codec[T]) (*KeyValue[T], error) {
	part, err := s.bind(p, ShapeSingle)
	if err != nil {
		return nil, err
	}
	return &KeyValue[T]{part: part, codec: c}, nil
}

// Partition returns the bound partition id.
func (kv *KeyValue[T]) Partition() PartitionID {
	return kv.part.id
}

func (kv *KeyValue[T]) encode(v T) ([]byte, error) {
	return codec.MarshalData(kv.codec.Tokenize(v))
}

func (kv *KeyValue[T]) decode(id string, b []byte) (T, error) {
	var zero T
	d, err := codec.UnmarshalData(b)
	if err != nil {
		return zero, fmt.Errorf("partition %d id %q: %w", kv.part.id, id, err)
	}
	v, err := kv.codec.Untokenize(d)
	if err != nil {
		return zero, fmt.Errorf("partition %d id %q: %w", kv.part.id, id, err)
	}
	return v, nil
}

func (kv *KeyValue[T]) decodeAll(raw []Entry[[]byte]) ([]Entry[T], error) {
	out := make([]Entry[T], 0, len(raw))
	for _, e := range raw {
		v, err := kv.decode(e.ID, e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry[T]{ID: e.ID, Value: v})
	}
	return out, nil
}

// Get returns the record stored under id. found is false if id is absent.
func (kv *KeyValue[T]) Get(id string) (v T, found bool, err error) {
	b, found, err := kv.part.get(id)
	if err != nil || !found {
		return v, false, err
	}
	v, err = kv.decode(id, b)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Set overwrites the record stored under id.
func (kv *KeyValue[T]) Set(id string, v T) error {
	return kv.SetMany([]Entry[T]{{ID: id, Value: v}})
}

// SetMany overwrites several records in one backend write.
func (kv *KeyValue[T]) SetMany(entries []Entry[T]) error {
	raw := make([]Entry[[]byte], len(entries))
	for i, e := range entries {
		b, err := kv.encode(e.Value)
		if err != nil {
			return err
		}
		raw[i] = Entry[[]byte]{ID: e.ID, Value: b}
	}
	return kv.part.apply(raw)
}

// Between returns the records with from <= id < to in ascending order.
func (kv *KeyValue[T]) Between(from, to string) ([]Entry[T], error) {
	raw, err := kv.part.rangeScan(from, to)
	if err != nil {
		return nil, err
	}
	return kv.decodeAll(raw)
}

// Last returns up to n records with the greatest ids, in ascending order.
func (kv *KeyValue[T]) Last(n int) ([]Entry[T], error) {
	raw, err := kv.part.last(n)
	if err != nil {
		return nil, err
	}
	return kv.decodeAll(raw)
}

// LastID returns the greatest id present.
func (kv *KeyValue[T]) LastID() (string, bool, error) {
	return kv.part.lastID()
}

// KeyValues is a partition holding an ordered list of records per id.
type KeyValues[T any] struct {
	part  *partition
	codec codec.Codec[T]
}

// BindKeyValues binds partition p to the multi-value shape for T.
func BindKeyValues[T any](s *Store, p PartitionID, c codec.Codec[T]) (*KeyValues[T], error) {
	part, err := s.bind(p, ShapeMulti)
	if err != nil {
		return nil, err
	}
	return &KeyValues[T]{part: part, codec: c}, nil
}

// Partition returns the bound partition id.
func (kv *KeyValues[T]) Partition() PartitionID {
	return kv.part.id
}

func (kv *KeyValues[T]) encode(vs []T) ([]byte, error) {
	return codec.MarshalValues(codec.TokenizeAll(kv.codec, vs))
}

func (kv *KeyValues[T]) decode(id string, b []byte) ([]T, error) {
	vs, err := codec.UnmarshalValues(b)
	if err != nil {
		return nil, fmt.Errorf("partition %d id %q: %w", kv.part.id, id, err)
	}
	out, err := codec.UntokenizeAll(kv.codec, vs)
	if err != nil {
		return nil, fmt.Errorf("partition %d id %q: %w", kv.part.id, id, err)
	}
	return out, nil
}

func (kv *KeyValues[T]) decodeAll(raw []Entry[[]byte]) ([]Entry[[]T], error) {
	out := make([]Entry[[]T], 0, len(raw))
	for _, e := range raw {
		vs, err := kv.decode(e.ID, e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry[[]T]{ID: e.ID, Value: vs})
	}
	return out, nil
}

// Get returns the records stored under id, or an empty slice.
func (kv *KeyValues[T]) Get(id string) ([]T, error) {
	b, found, err := kv.part.get(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return []T{}, nil
	}
	return kv.decode(id, b)
}

// Set overwrites the list stored under id.
func (kv *KeyValues[T]) Set(id string, vs []T) error {
	return kv.SetMany([]Entry[[]T]{{ID: id, Value: vs}})
}

// SetMany overwrites several lists in one backend write.
func (kv *KeyValues[T]) SetMany(entries []Entry[[]T]) error {
	raw := make([]Entry[[]byte], len(entries))
	for i, e := range entries {
		b, err := kv.encode(e.Value)
		if err != nil {
			return err
		}
		raw[i] = Entry[[]byte]{ID: e.ID, Value: b}
	}
	return kv.part.apply(raw)
}

// Insert appends v to the list stored under id.
func (kv *KeyValues[T]) Insert(id string, v T) error {
	kv.part.rmw.Lock()
	defer kv.part.rmw.Unlock()

	vs, err := kv.Get(id)
	if err != nil {
		return err
	}
	return kv.Set(id, append(vs, v))
}

// Between returns the lists with from <= id < to in ascending order.
func (kv *KeyValues[T]) Between(from, to string) ([]Entry[[]T], error) {
	raw, err := kv.part.rangeScan(from, to)
	if err != nil {
		return nil, err
	}
	return kv.decodeAll(raw)
}

// Last returns up to n lists with the greatest ids, in ascending order.
func (kv *KeyValues[T]) Last(n int) ([]Entry[[]T], error) {
	raw, err := kv.part.last(n)
	if err != nil {
		return nil, err
	}
	return kv.decodeAll(raw)
}

// LastElems returns the last n elements across the highest-keyed lists,
// flattened in ascending (id, insertion) order. A list is split when n does
// not end on a list boundary.
func (kv *KeyValues[T]) LastElems(n int) ([]Entry[T], error) {
	if n <= 0 {
		return []Entry[T]{}, nil
	}

	var (
		chunks    [][]Entry[T]
		remaining = n
		decodeErr error
	)
	err := kv.part.descend(func(e Entry[[]byte]) bool {
		vs, err := kv.decode(e.ID, e.Value)
		if err != nil {
			decodeErr = err
			return false
		}
		if len(vs) > remaining {
			vs = vs[len(vs)-remaining:]
		}
		chunk := make([]Entry[T], len(vs))
		for i, v := range vs {
			chunk[i] = Entry[T]{ID: e.ID, Value: v}
		}
		chunks = append(chunks, chunk)
		remaining -= len(vs)
		return remaining > 0
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	out := make([]Entry[T], 0, n-remaining)
	for i := len(chunks) - 1; i >= 0; i-- {
		out = append(out, chunks[i]...)
	}
	return out, nil
}

// LastID returns the greatest id present.
func (kv *KeyValues[T]) LastID() (string, bool, error) {
	return kv.part.lastID()
}
