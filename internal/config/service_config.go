package config

import (
	"path/filepath"
	"strings"
)

// ServiceConfig defines the standard configuration lifecycle methods.
// Each section of Config implements it so loading is handled uniformly.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with sensible defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies CHUNKDEX_* environment variable overrides
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths against the config directory.
	ResolvePaths(configDir string)

	// Validate returns an error if the configuration is invalid.
	Validate() error
}

// ApplyServiceConfigs applies the configuration lifecycle to all service configs.
// It calls ApplyDefaults, ApplyEnvOverrides, ResolvePaths, and Validate in order.
func ApplyServiceConfigs(configDir string, configs ...ServiceConfig) error {
	for _, cfg := range configs {
		cfg.ApplyDefaults()
		cfg.ApplyEnvOverrides()
		cfg.ResolvePaths(configDir)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath makes p absolute-or-clean relative to configDir. Paths starting
// with ".." resolve from configDir itself; other relative paths resolve from
// its parent, so data/ and logs/ end up next to config/, not inside it.
func resolvePath(configDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "..") {
		return filepath.Clean(filepath.Join(configDir, p))
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configDir), p))
}
