package config

import (
	"os"
	"time"
)

// GatewayConfig configures the HTTP read API.
type GatewayConfig struct {
	// Listen address; empty disables the gateway.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`

	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MaxLatest caps the n parameter of latest queries.
	MaxLatest int `yaml:"max_latest" validate:"gte=0"`

	// MaxRange caps to-from of range queries.
	MaxRange uint64 `yaml:"max_range"`
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Listen:       ":8480",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxLatest:    1000,
		MaxRange:     100000,
	}
}

func (c *GatewayConfig) ApplyDefaults() {
	defaults := DefaultGatewayConfig()
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.MaxLatest == 0 {
		c.MaxLatest = defaults.MaxLatest
	}
	if c.MaxRange == 0 {
		c.MaxRange = defaults.MaxRange
	}
}

func (c *GatewayConfig) ApplyEnvOverrides() {
	if v := os.Getenv("CHUNKDEX_GATEWAY_LISTEN"); v != "" {
		c.Listen = v
	}
}

func (c *GatewayConfig) ResolvePaths(string) {}

func (c *GatewayConfig) Validate() error {
	return validateStruct("gateway", c)
}
