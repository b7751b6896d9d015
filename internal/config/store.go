package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/syntrixbase/chunkdex/internal/store/mongo_store"
	"github.com/syntrixbase/chunkdex/internal/store/persist_store"
	"github.com/syntrixbase/chunkdex/internal/store/pg_store"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

const DefaultPartitions = 16

// StoreConfig selects and configures the keyed store backend.
type StoreConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=memory pebble mongo postgres"`
	Partitions int    `yaml:"partitions" validate:"gt=0,lte=65535"`

	Pebble   persist_store.Config `yaml:"pebble"`
	Mongo    mongo_store.Config   `yaml:"mongo"`
	Postgres pg_store.Config      `yaml:"postgres"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:    BackendPebble,
		Partitions: DefaultPartitions,
		Pebble:     persist_store.DefaultConfig(),
		Mongo:      mongo_store.DefaultConfig(),
		Postgres:   pg_store.DefaultConfig(),
	}
}

func (c *StoreConfig) ApplyDefaults() {
	defaults := DefaultStoreConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.Partitions == 0 {
		c.Partitions = defaults.Partitions
	}
	if c.Pebble.Path == "" {
		c.Pebble.Path = defaults.Pebble.Path
	}
	if c.Pebble.BlockCacheSize == 0 {
		c.Pebble.BlockCacheSize = defaults.Pebble.BlockCacheSize
	}
	if c.Pebble.Compression == "" {
		c.Pebble.Compression = defaults.Pebble.Compression
	}
	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = defaults.Mongo.Timeout
	}
	if c.Postgres.Timeout == 0 {
		c.Postgres.Timeout = defaults.Postgres.Timeout
	}
}

func (c *StoreConfig) ApplyEnvOverrides() {
	if v := os.Getenv("CHUNKDEX_STORE_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("CHUNKDEX_STORE_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Partitions = n
		}
	}
	if v := os.Getenv("CHUNKDEX_STORE_PATH"); v != "" {
		c.Pebble.Path = v
	}
	if v := os.Getenv("CHUNKDEX_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("CHUNKDEX_MONGO_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("CHUNKDEX_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

func (c *StoreConfig) ResolvePaths(configDir string) {
	c.Pebble.Path = resolvePath(configDir, c.Pebble.Path)
}

func (c *StoreConfig) Validate() error {
	if err := validateStruct("store", c); err != nil {
		return err
	}
	switch c.Backend {
	case BackendPebble:
		if c.Pebble.Path == "" {
			return fmt.Errorf("store: pebble.path is required")
		}
		if c.Pebble.Compression != persist_store.CompressionNone && c.Pebble.Compression != persist_store.CompressionZstd {
			return fmt.Errorf("store: invalid pebble compression %q", c.Pebble.Compression)
		}
	case BackendMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("store: mongo.uri and mongo.database are required")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("store: postgres.dsn is required")
		}
	}
	return nil
}
