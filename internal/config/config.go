package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	indexer "github.com/syntrixbase/chunkdex/internal/indexer/config"
	"gopkg.in/yaml.v3"
)

// validate is the singleton validator instance.
var validate = validator.New()

// Config holds the application configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Lens    LensConfig    `yaml:"lens"`
	Gateway GatewayConfig `yaml:"gateway"`

	Indexers []indexer.Config `yaml:"indexers"`
}

// DefaultConfig returns the configuration used before any file is loaded.
func DefaultConfig() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Store:   DefaultStoreConfig(),
		Gateway: DefaultGatewayConfig(),
	}
}

// LoadConfig loads configuration from configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	loadFile(filepath.Join(configDir, "config.yml"), cfg)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	if err := cfg.Finalize(configDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize runs the configuration lifecycle over every section and checks
// the rules that span sections.
func (c *Config) Finalize(configDir string) error {
	if err := ApplyServiceConfigs(configDir, &c.Logging, &c.Store, &c.Lens, &c.Gateway); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Indexers))
	partitions := make(map[uint16]string, len(c.Indexers))
	for i := range c.Indexers {
		ix := &c.Indexers[i]
		ix.ApplyDefaults()
		if err := ix.Validate(); err != nil {
			return err
		}
		if names[ix.Name] {
			return fmt.Errorf("%w: duplicate indexer name %q", indexer.ErrInvalidConfig, ix.Name)
		}
		names[ix.Name] = true

		if ix.Partition == 0 || int(ix.Partition) > c.Store.Partitions {
			return fmt.Errorf("%w: indexer %q: partition %d out of range [1, %d]",
				indexer.ErrInvalidConfig, ix.Name, ix.Partition, c.Store.Partitions)
		}
		if other, ok := partitions[ix.Partition]; ok {
			return fmt.Errorf("%w: indexers %q and %q share partition %d",
				indexer.ErrInvalidConfig, other, ix.Name, ix.Partition)
		}
		partitions[ix.Partition] = ix.Name

		switch ix.Source.Kind {
		case indexer.SourceNone:
			return fmt.Errorf("%w: indexer %q: source.kind is required", indexer.ErrInvalidConfig, ix.Name)
		case indexer.SourceNATS:
			if c.Lens.NATS.URL == "" {
				return fmt.Errorf("%w: indexer %q: nats source requires lens.nats.url", indexer.ErrInvalidConfig, ix.Name)
			}
		case indexer.SourceGRPC:
			if c.Lens.GRPC.Address == "" {
				return fmt.Errorf("%w: indexer %q: grpc source requires lens.grpc.address", indexer.ErrInvalidConfig, ix.Name)
			}
		}
		if ix.Serve && c.Lens.NATS.URL == "" && c.Lens.GRPC.Listen == "" {
			return fmt.Errorf("%w: indexer %q: serve requires lens.nats.url or lens.grpc.listen", indexer.ErrInvalidConfig, ix.Name)
		}
	}
	return nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return // File doesn't exist, skip
		}
		slog.Warn("Error reading config file", "file", filename, "error", err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Error parsing config file", "file", filename, "error", err)
	}
}

func validateStruct(section string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%s: %w", section, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s: invalid configuration: %s", section, strings.Join(msgs, "; "))
}
