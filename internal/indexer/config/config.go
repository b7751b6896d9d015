// Package config provides configuration for a single indexer.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Source kinds
const (
	SourceNone = ""     // fetcher supplied in code
	SourceNATS = "nats" // remote get_by_range over NATS
	SourceGRPC = "grpc" // remote get_by_range over gRPC
)

const (
	DefaultChunkSize = 500
	DefaultInterval  = 5 * time.Second
	DefaultMethod    = "get_by_range"
	DefaultTimeout   = 10 * time.Second
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid indexer configuration")

// validate is the singleton validator instance.
var validate = validator.New()

// Config holds the configuration of one indexer.
type Config struct {
	// Name identifies the indexer in logs, metrics and the query API.
	Name string `yaml:"name" validate:"required,max=64,excludesall=/"`

	// Partition is the store partition the indexer owns. Unused by indexers
	// with a callback sink.
	Partition uint16 `yaml:"partition"`

	// StartFrom is the first position indexed when the partition is empty.
	StartFrom uint64 `yaml:"start_from"`

	// ChunkSize is the window width. Defaults to 500.
	ChunkSize uint64 `yaml:"chunk_size"`

	// Interval between steps when running. Defaults to 5s.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// Filter is an optional CEL condition over "event" and "position".
	Filter string `yaml:"filter"`

	Source SourceConfig `yaml:"source"`

	// Serve exposes the indexer's query methods over Lens.
	Serve bool `yaml:"serve"`
}

// SourceConfig selects a remote upstream indexer.
type SourceConfig struct {
	Kind    string        `yaml:"kind" validate:"omitempty,oneof=nats grpc"`
	Target  string        `yaml:"target"`
	Method  string        `yaml:"method"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Interval:  DefaultInterval,
		Source: SourceConfig{
			Method:  DefaultMethod,
			Timeout: DefaultTimeout,
		},
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Source.Kind != SourceNone {
		if c.Source.Method == "" {
			c.Source.Method = DefaultMethod
		}
		if c.Source.Timeout == 0 {
			c.Source.Timeout = DefaultTimeout
		}
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Source.Kind != SourceNone && c.Source.Target == "" {
		return fmt.Errorf("%w: indexer %q: source.target is required for %s sources", ErrInvalidConfig, c.Name, c.Source.Kind)
	}
	if c.StartFrom > ^uint64(0)-c.ChunkSize {
		return fmt.Errorf("%w: indexer %q: start_from leaves no room for a window", ErrInvalidConfig, c.Name)
	}
	return nil
}
