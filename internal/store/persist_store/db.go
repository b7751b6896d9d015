package persist_store

import (
	"io"

	"github.com/cockroachdb/pebble"
)

// DB is what PebbleStore needs from pebble; tests substitute mocks to inject
// failures.
type DB interface {
	// Get yields pebble.ErrNotFound for absent keys. value is borrowed until
	// closer.Close.
	Get(key []byte) (value []byte, closer io.Closer, err error)
	NewIter(o *pebble.IterOptions) (Iterator, error)
	NewBatch() Batch
	Close() error
}

// Iterator walks one partition's key span in either direction.
type Iterator interface {
	First() bool
	Last() bool
	Next() bool
	Prev() bool
	Valid() bool

	// Key and Value are borrowed until the iterator moves.
	Key() []byte
	Value() []byte

	Error() error
	Close() error
}

// Batch collects the upserts of one Apply.
type Batch interface {
	Set(key, value []byte, opt *pebble.WriteOptions) error
	Commit(o *pebble.WriteOptions) error
	Close() error
}

// PebbleDB adapts *pebble.DB, whose NewIter returns a concrete iterator.
type PebbleDB struct {
	db *pebble.DB
}

func (p *PebbleDB) Get(key []byte) (value []byte, closer io.Closer, err error) {
	return p.db.Get(key)
}

func (p *PebbleDB) NewIter(o *pebble.IterOptions) (Iterator, error) {
	iter, err := p.db.NewIter(o)
	if err != nil {
		return nil, err
	}
	return iter, nil
}

func (p *PebbleDB) NewBatch() Batch {
	return p.db.NewBatch()
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}
