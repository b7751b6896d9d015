// Package pg_store provides a PostgreSQL Keyed Store backend. Each partition
// is one table; ids use the "C" collation so ordering is bytewise.
package pg_store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/syntrixbase/chunkdex/internal/store"
)

// Config configures the PostgreSQL backend.
type Config struct {
	DSN         string        `yaml:"dsn"`
	TablePrefix string        `yaml:"table_prefix"`
	Timeout     time.Duration `yaml:"timeout"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DSN:         "postgres://localhost:5432/chunkdex?sslmode=disable",
		TablePrefix: "chunkdex",
		Timeout:     10 * time.Second,
	}
}

// Store implements store.Backend on PostgreSQL.
type Store struct {
	db      *sql.DB
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// Open connects to cfg.DSN and creates the tables for partitions 1..partitions.
func Open(ctx context.Context, cfg Config, partitions int) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", store.ErrInvalidConfig)
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := NewStore(db, cfg)
	if err := s.EnsureSchema(ctx, partitions); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("postgres store ready", "prefix", s.prefix, "partitions", partitions)
	return s, nil
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB, cfg Config) *Store {
	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = DefaultConfig().TablePrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger.With("component", "pg-store"),
	}
}

func (s *Store) table(p store.PartitionID) string {
	return pq.QuoteIdentifier(fmt.Sprintf("%s_p%d", s.prefix, p))
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// EnsureSchema creates the partition tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context, partitions int) error {
	for p := 1; p <= partitions; p++ {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT COLLATE "C" PRIMARY KEY,
	value BYTEA NOT NULL
)`, s.table(store.PartitionID(p)))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table for partition %d: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Get(p store.PartitionID, id string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE id = $1`, s.table(p))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", id, err)
	}
	return value, true, nil
}

// Apply upserts all entries in one transaction.
func (s *Store) Apply(p store.PartitionID, entries []store.Entry[[]byte]) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s (id, value) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value`, s.table(p))
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query, e.ID, e.Value); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) query(p store.PartitionID, query string, args []any, fn func(store.Entry[[]byte]) bool) error {
	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query partition %d: %w", p, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e store.Entry[[]byte]
		if err := rows.Scan(&e.ID, &e.Value); err != nil {
			return fmt.Errorf("failed to scan partition %d: %w", p, err)
		}
		if !fn(e) {
			return nil
		}
	}
	return rows.Err()
}

// Range returns [from, to); an empty to means unbounded.
func (s *Store) Range(p store.PartitionID, from, to string) ([]store.Entry[[]byte], error) {
	query := fmt.Sprintf(`SELECT id, value FROM %s WHERE id >= $1 AND id < $2 ORDER BY id ASC`, s.table(p))
	args := []any{from, to}
	if to == "" {
		query = fmt.Sprintf(`SELECT id, value FROM %s WHERE id >= $1 ORDER BY id ASC`, s.table(p))
		args = []any{from}
	}

	var out []store.Entry[[]byte]
	err := s.query(p, query, args, func(e store.Entry[[]byte]) bool {
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Last(p store.PartitionID, n int) ([]store.Entry[[]byte], error) {
	if n <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, value FROM %s ORDER BY id DESC LIMIT $1`, s.table(p))

	var out []store.Entry[[]byte]
	err := s.query(p, query, []any{n}, func(e store.Entry[[]byte]) bool {
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Max(p store.PartitionID) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var id string
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY id DESC LIMIT 1`, s.table(p))
	err := s.db.QueryRowContext(ctx, query).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read max id: %w", err)
	}
	return id, true, nil
}

func (s *Store) Descend(p store.PartitionID, fn func(store.Entry[[]byte]) bool) error {
	query := fmt.Sprintf(`SELECT id, value FROM %s ORDER BY id DESC`, s.table(p))
	return s.query(p, query, nil, fn)
}

func (s *Store) Close() error {
	return s.db.Close()
}
