package config

import (
	"os"
	"time"
)

// LensConfig configures the transports used to serve indexers and to reach
// upstream indexers.
type LensConfig struct {
	NATS NATSConfig `yaml:"nats"`
	GRPC GRPCConfig `yaml:"grpc"`
}

// NATSConfig enables the NATS transport when URL is set.
type NATSConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`

	// DrainTimeout bounds connection draining on shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout" validate:"gte=0"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	// Listen serves this process's indexers when set (e.g. ":9470").
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`

	// Address is dialed for grpc sources.
	Address string `yaml:"address"`
}

func (c *LensConfig) ApplyDefaults() {
	if c.NATS.DrainTimeout == 0 {
		c.NATS.DrainTimeout = 5 * time.Second
	}
}

func (c *LensConfig) ApplyEnvOverrides() {
	if v := os.Getenv("CHUNKDEX_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("CHUNKDEX_GRPC_LISTEN"); v != "" {
		c.GRPC.Listen = v
	}
	if v := os.Getenv("CHUNKDEX_GRPC_ADDRESS"); v != "" {
		c.GRPC.Address = v
	}
}

func (c *LensConfig) ResolvePaths(string) {}

func (c *LensConfig) Validate() error {
	return validateStruct("lens", c)
}
