// Package mongo_store provides a MongoDB Keyed Store backend. Each partition
// is one collection of {_id, v} documents; string _id values sort bytewise.
package mongo_store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/chunkdex/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config configures the MongoDB backend.
type Config struct {
	URI              string        `yaml:"uri"`
	Database         string        `yaml:"database"`
	CollectionPrefix string        `yaml:"collection_prefix"`
	Timeout          time.Duration `yaml:"timeout"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URI:              "mongodb://localhost:27017",
		Database:         "chunkdex",
		CollectionPrefix: "chunkdex",
		Timeout:          10 * time.Second,
	}
}

type entryDoc struct {
	ID string `bson:"_id"`
	V  []byte `bson:"v"`
}

// Store implements store.Backend on MongoDB.
type Store struct {
	client  *mongo.Client // nil when the database handle is borrowed
	db      *mongo.Database
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	colls map[store.PartitionID]*mongo.Collection
}

var _ store.Backend = (*Store)(nil)

// Open connects to cfg.URI and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("%w: mongo uri and database are required", store.ErrInvalidConfig)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := New(client.Database(cfg.Database), cfg)
	s.client = client
	s.logger.Info("mongo store connected", "database", cfg.Database, "prefix", s.prefix)
	return s, nil
}

// New creates a Store over an existing database handle. Close does not
// disconnect the client.
func New(db *mongo.Database, cfg Config) *Store {
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = DefaultConfig().CollectionPrefix
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
		logger:  logger.With("component", "mongo-store"),
		colls:   make(map[store.PartitionID]*mongo.Collection),
	}
}

func collectionName(prefix string, p store.PartitionID) string {
	return fmt.Sprintf("%s_p%d", prefix, p)
}

// rangeFilter selects [from, to); an empty to means unbounded.
func rangeFilter(from, to string) bson.M {
	cond := bson.M{"$gte": from}
	if to != "" {
		cond["$lt"] = to
	}
	return bson.M{"_id": cond}
}

func upsertModels(entries []store.Entry[[]byte]) []mongo.WriteModel {
	models := make([]mongo.WriteModel, len(entries))
	for i, e := range entries {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": e.ID}).
			SetReplacement(entryDoc{ID: e.ID, V: e.Value}).
			SetUpsert(true)
	}
	return models
}

func (s *Store) coll(p store.PartitionID) *mongo.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.colls[p]
	if !ok {
		c = s.db.Collection(collectionName(s.prefix, p))
		s.colls[p] = c
	}
	return c
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Get(p store.PartitionID, id string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var doc entryDoc
	err := s.coll(p).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", id, err)
	}
	return doc.V, true, nil
}

// Apply runs an ordered bulk upsert. Unlike the other backends it is not
// atomic across entries; entries are replayed idempotently on retry.
func (s *Store) Apply(p store.PartitionID, entries []store.Entry[[]byte]) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()

	_, err := s.coll(p).BulkWrite(ctx, upsertModels(entries), options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("failed to write %d entries: %w", len(entries), err)
	}
	return nil
}

func (s *Store) find(p store.PartitionID, filter bson.M, opts *options.FindOptions, fn func(entryDoc) bool) error {
	ctx, cancel := s.ctx()
	defer cancel()

	cur, err := s.coll(p).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("failed to query partition %d: %w", p, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc entryDoc
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("%w: partition %d: %v", store.ErrCorruptValue, p, err)
		}
		if !fn(doc) {
			return nil
		}
	}
	return cur.Err()
}

func (s *Store) Range(p store.PartitionID, from, to string) ([]store.Entry[[]byte], error) {
	var out []store.Entry[[]byte]
	err := s.find(p, rangeFilter(from, to), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), func(d entryDoc) bool {
		out = append(out, store.Entry[[]byte]{ID: d.ID, Value: d.V})
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
	var out []store.Entry[[]byte]
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(n))
	err := s.find(p, bson.M{}, opts, func(d entryDoc) bool {
		out = append(out, store.Entry[[]byte]{ID: d.ID, Value: d.V})
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

	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1})
	var doc entryDoc
	err := s.coll(p).FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read max id: %w", err)
	}
	return doc.ID, true, nil
}

func (s *Store) Descend(p store.PartitionID, fn func(store.Entry[[]byte]) bool) error {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	return s.find(p, bson.M{}, opts, func(d entryDoc) bool {
		return fn(store.Entry[[]byte]{ID: d.ID, Value: d.V})
	})
}

// Drop removes the collection backing partition p.
func (s *Store) Drop(ctx context.Context, p store.PartitionID) error {
	return s.coll(p).Drop(ctx)
}

// Close disconnects the client if this Store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.client.Disconnect(ctx)
}
