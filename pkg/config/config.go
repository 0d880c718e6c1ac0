// Package config loads and validates the reconciler configuration from a
// YAML file with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sgward/sgward/pkg/telemetry"
)

// Duration wraps time.Duration for YAML decoding of values like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full reconciler configuration.
type Config struct {
	// Store configures the request store database.
	Store StoreConfig `yaml:"store"`

	// Inventory configures the live-state mirror connection.
	Inventory InventoryConfig `yaml:"inventory"`

	// Engine configures the reconciliation loop.
	Engine EngineConfig `yaml:"engine"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StoreConfig configures the SQLite request store.
type StoreConfig struct {
	// Path is the database file path.
	Path string `yaml:"path" validate:"required"`
}

// InventoryConfig configures the Postgres inventory mirror.
type InventoryConfig struct {
	// DSN is the Postgres connection string. Usually supplied via the
	// SGWARD_INVENTORY_DSN environment variable rather than the file.
	DSN string `yaml:"dsn" validate:"required"`
}

// EngineConfig configures the reconciliation loop.
type EngineConfig struct {
	// Interval is the delay between settled reconciliation cycles.
	Interval Duration `yaml:"interval"`

	// MaxParallel bounds concurrent request handling within one pass.
	MaxParallel int `yaml:"max_parallel" validate:"gte=0"`

	// ProviderTimeout bounds each provider mutation call.
	ProviderTimeout Duration `yaml:"provider_timeout"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path: "sgward.db",
		},
		Engine: EngineConfig{
			Interval:        Duration(10 * time.Second),
			MaxParallel:     8,
			ProviderTimeout: Duration(30 * time.Second),
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file, applies environment overrides, and
// validates the result. An empty path loads defaults and overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values from the environment. Secrets belong
// here, not in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SGWARD_INVENTORY_DSN"); v != "" {
		cfg.Inventory.DSN = v
	}
	if v := os.Getenv("SGWARD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SGWARD_LOG_LEVEL"); v != "" {
		cfg.Telemetry.Logging.Level = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine interval must be positive")
	}
	if c.Engine.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	return c.Telemetry.Validate()
}
