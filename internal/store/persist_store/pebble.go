// Package persist_store provides the pebble-backed Keyed Store backend.
package persist_store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/syntrixbase/chunkdex/internal/store"
)

// Config configures the PebbleStore.
type Config struct {
	// Path is the directory to store the database.
	Path string `yaml:"path"`

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	// Compression is "none" or "zstd".
	Compression string `yaml:"compression"`

	// NoSync skips fsync on commit. Only for tests and throwaway data.
	NoSync bool `yaml:"no_sync"`

	// Logger for store operations.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Path:           "data/chunkdex/store.db",
		BlockCacheSize: 64 * 1024 * 1024, // 64MB
		Compression:    CompressionZstd,
	}
}

// PebbleStore implements store.Backend using PebbleDB.
type PebbleStore struct {
	db     DB
	path   string
	logger *slog.Logger
	frames *framer
	wopts  *pebble.WriteOptions
}

var _ store.Backend = (*PebbleStore)(nil)

// NewPebbleStore opens (or creates) the database at cfg.Path.
func NewPebbleStore(cfg Config) (*PebbleStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	frames, err := newFramer(cfg.Compression)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		frames.close()
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	cacheSize := cfg.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultConfig().BlockCacheSize
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	dbOpts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)}, // 10 bits per key, ~1% false positive
		},
	}

	db, err := pebble.Open(cfg.Path, dbOpts)
	if err != nil {
		frames.close()
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	s := newStore(&PebbleDB{db: db}, cfg, frames)
	s.logger.Info("pebble store opened", "path", cfg.Path, "compression", cfg.Compression)
	return s, nil
}

func newStore(db DB, cfg Config, frames *framer) *PebbleStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wopts := pebble.Sync
	if cfg.NoSync {
		wopts = pebble.NoSync
	}
	return &PebbleStore{
		db:     db,
		path:   cfg.Path,
		logger: logger.With("component", "persist-store"),
		frames: frames,
		wopts:  wopts,
	}
}

// Path returns the database directory.
func (s *PebbleStore) Path() string {
	return s.path
}

func (s *PebbleStore) Get(p store.PartitionID, id string) ([]byte, bool, error) {
	raw, closer, err := s.db.Get(entryKey(p, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", id, err)
	}
	defer closer.Close()

	value, err := s.frames.decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("partition %d id %q: %w", p, id, err)
	}
	return value, true, nil
}

// Apply writes all entries in one batch.
func (s *PebbleStore) Apply(p store.PartitionID, entries []store.Entry[[]byte]) error {
	if len(entries) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, e := range entries {
		if err := batch.Set(entryKey(p, e.ID), s.frames.encode(e.Value), nil); err != nil {
			return fmt.Errorf("failed to stage %q: %w", e.ID, err)
		}
	}
	if err := batch.Commit(s.wopts); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) iter(p store.PartitionID, from, to string) (Iterator, error) {
	upper := partitionUpper(p)
	if to != "" {
		upper = entryKey(p, to)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKey(p, from),
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	return iter, nil
}

func (s *PebbleStore) entry(p store.PartitionID, iter Iterator) (store.Entry[[]byte], error) {
	id, err := idFromKey(p, iter.Key())
	if err != nil {
		return store.Entry[[]byte]{}, err
	}
	value, err := s.frames.decode(iter.Value())
	if err != nil {
		return store.Entry[[]byte]{}, fmt.Errorf("partition %d id %q: %w", p, id, err)
	}
	return store.Entry[[]byte]{ID: id, Value: value}, nil
}

// Range returns [from, to); an empty to means unbounded.
func (s *PebbleStore) Range(p store.PartitionID, from, to string) ([]store.Entry[[]byte], error) {
	iter, err := s.iter(p, from, to)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []store.Entry[[]byte]
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := s.entry(p, iter)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return out, nil
}

func (s *PebbleStore) Last(p store.PartitionID, n int) ([]store.Entry[[]byte], error) {
	if n <= 0 {
		return nil, nil
	}
	var out []store.Entry[[]byte]
	err := s.Descend(p, func(e store.Entry[[]byte]) bool {
		out = append(out, e)
		return len(out) < n
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PebbleStore) Max(p store.PartitionID) (string, bool, error) {
	iter, err := s.iter(p, "", "")
	if err != nil {
		return "", false, err
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return "", false, fmt.Errorf("iterator error: %w", err)
		}
		return "", false, nil
	}
	id, err := idFromKey(p, iter.Key())
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *PebbleStore) Descend(p store.PartitionID, fn func(store.Entry[[]byte]) bool) error {
	iter, err := s.iter(p, "", "")
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.Last(); iter.Valid(); iter.Prev() {
		e, err := s.entry(p, iter)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	defer s.frames.close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	s.logger.Info("pebble store closed", "path", s.path)
	return nil
}
