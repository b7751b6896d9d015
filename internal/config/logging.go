package config

import (
	"fmt"
	"os"
	"time"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	Dir    string `yaml:"dir" validate:"required"`

	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`

	// DedupWindow suppresses identical records repeated within it; 0 disables.
	DedupWindow time.Duration `yaml:"dedup_window" validate:"gte=0"`
}

// RotationConfig is handed to lumberjack for every log file.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size" validate:"gte=0"`    // MB
	MaxBackups int  `yaml:"max_backups" validate:"gte=0"` // files kept
	MaxAge     int  `yaml:"max_age" validate:"gte=0"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log destination. Empty Level and Format
// inherit the top-level values.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"omitempty,oneof=text json"`
}

func (o *OutputConfig) inherit(level, format string) {
	// a section with nothing set is on
	if *o == (OutputConfig{}) {
		o.Enabled = true
	}
	if o.Level == "" {
		o.Level = level
	}
	if o.Format == "" {
		o.Format = format
	}
}

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	c := LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		DedupWindow: time.Minute,
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
	return c
}

func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = d.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = d.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = d.Rotation.MaxAge
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

func (c *LoggingConfig) ApplyEnvOverrides() {
	if v := os.Getenv("CHUNKDEX_LOG_LEVEL"); v != "" {
		c.Level, c.Console.Level, c.File.Level = v, v, v
	}
	if v := os.Getenv("CHUNKDEX_LOG_FORMAT"); v != "" {
		c.Format, c.Console.Format, c.File.Format = v, v, v
	}
	if v := os.Getenv("CHUNKDEX_LOG_DIR"); v != "" {
		c.Dir = v
	}
	if v := os.Getenv("CHUNKDEX_LOG_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DedupWindow = d
		}
	}
}

func (c *LoggingConfig) ResolvePaths(configDir string) {
	c.Dir = resolvePath(configDir, c.Dir)
}

func (c *LoggingConfig) Validate() error {
	if err := validateStruct("logging", c); err != nil {
		return err
	}
	if !c.Console.Enabled && !c.File.Enabled {
		return fmt.Errorf("logging: console and file output are both disabled")
	}
	return nil
}
