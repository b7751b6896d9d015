// Package store provides the Keyed Store: durable, ordered, partitioned
// storage keyed by string ids, in a single-value (KeyValue) and a
// multi-value (KeyValues) shape.
//
// Ids compare bytewise. Callers that need numeric order must use
// fixed-width ids (see codec.PositionID). All ranges are half-open:
// [from, to). A missing key is never an error.
//
// Backends: mem_store (btree), persist_store (pebble), mongo_store (MongoDB),
// pg_store (PostgreSQL).
package store

import "errors"

// PartitionID selects one of the pre-allocated partitions, starting at 1.
type PartitionID uint16

// Entry is one id/value pair returned by scans.
type Entry[V any] struct {
	ID    string
	Value V
}

// Backend is an ordered byte map per partition.
//
// Implementations must be safe for concurrent use. Range returns entries with
// from <= id < to in ascending order. Last returns up to n entries with the
// greatest ids, in ascending order. Descend visits entries from the greatest
// id downwards until fn returns false; fn must not call back into the backend.
type Backend interface {
	Get(p PartitionID, id string) (value []byte, found bool, err error)
	Apply(p PartitionID, entries []Entry[[]byte]) error
	Range(p PartitionID, from, to string) ([]Entry[[]byte], error)
	Last(p PartitionID, n int) ([]Entry[[]byte], error)
	Max(p PartitionID) (id string, found bool, err error)
	Descend(p PartitionID, fn func(Entry[[]byte]) bool) error
	Close() error
}

// Errors
var (
	ErrInvalidPartition = errors.New("invalid partition id")
	ErrPartitionBound   = errors.New("partition already bound")
	ErrInvalidConfig    = errors.New("invalid store configuration")
	ErrCorruptValue     = errors.New("corrupt stored value")
	ErrClosed           = errors.New("store is closed")
)
