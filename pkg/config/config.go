package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittoldap/pkg/gc"
	"github.com/spf13/viper"
)

// Config is the DittoLDAP configuration file.
//
// Values come from, strongest first: command line overrides applied by
// cmd/dittoldap, DITTOLDAP_* environment variables, the YAML file, and
// ApplyDefaults.
//
// Store options stay untyped (store.badger) until CreateStore decodes the map
// for the selected store type.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server holds process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Directory defines the naming contexts served
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// Schema configures schema extensions
	Schema SchemaConfig `mapstructure:"schema" yaml:"schema"`

	// Sort configures the external sort engine
	Sort SortConfig `mapstructure:"sort" yaml:"sort"`
}

// LoggingConfig is passed to logger.Configure.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR in any case
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path (appended to)
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig holds settings shared by every session and service.
type ServerConfig struct {
	// ShutdownTimeout bounds how long services get to stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// AllowAnonymous lets unauthenticated sessions run operations
	AllowAnonymous bool `mapstructure:"allow_anonymous" yaml:"allow_anonymous"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// RateLimit throttles operations across all sessions
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures the server-wide operation rate limit.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained operation rate (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the number of operations admitted at once (default: 2x rate)
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`

	// Path serves the metrics (default /metrics)
	Path string `mapstructure:"path" yaml:"path" validate:"omitempty,startswith=/"`
}

// DirectoryConfig defines the naming contexts and directory-wide features.
type DirectoryConfig struct {
	// Partitions lists the naming contexts, each with its own store
	Partitions []PartitionConfig `mapstructure:"partitions" yaml:"partitions" validate:"dive"`

	// ChangeLog configures the in-memory change log
	ChangeLog ChangeLogConfig `mapstructure:"changelog" yaml:"changelog"`
}

// PartitionConfig defines a single naming context.
type PartitionConfig struct {
	// Suffix is the DN of the partition root (e.g., "dc=example,dc=com")
	Suffix string `mapstructure:"suffix" yaml:"suffix" validate:"required"`

	// Store selects and configures the entry store
	Store StoreConfig `mapstructure:"store" yaml:"store"`
}

// StoreConfig selects the entry store of a partition.
type StoreConfig struct {
	// Type is memory or badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger holds badger.Options decoded by CreateStore; ignored for memory
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// ChangeLogConfig configures change recording.
type ChangeLogConfig struct {
	// Enabled records successful changes
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Capacity is the number of events kept
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gte=0"`
}

// SchemaConfig lists schema extension files loaded on top of the built-in schema.
type SchemaConfig struct {
	// Extensions are YAML files defining additional attribute types
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
}

// SortConfig configures server side sorting.
type SortConfig struct {
	// TempDir is where temporary sort indexes are created
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`

	// RunSize is the number of entries sorted in memory per run
	RunSize int `mapstructure:"run_size" yaml:"run_size" validate:"gte=0"`

	// GC removes sort indexes orphaned by crashes or leaked cursors
	GC gc.Config `mapstructure:"gc" yaml:"gc"`
}

// Load reads configPath (or the default location when empty), overlays
// DITTOLDAP_* environment variables, applies defaults and validates the
// result. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DITTOLDAP_ prefix and underscores
	// Example: DITTOLDAP_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOLDAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scalar keys must be known to viper for AutomaticEnv to see them
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.shutdown_timeout", "server.allow_anonymous",
		"server.metrics.enabled", "server.metrics.port", "server.metrics.path",
		"server.rate_limit.requests_per_second", "server.rate_limit.burst",
		"directory.changelog.enabled", "directory.changelog.capacity",
		"sort.temp_dir", "sort.run_size",
		"sort.gc.enabled", "sort.gc.interval", "sort.gc.min_age", "sort.gc.dry_run",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoldap/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - use defaults
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoldap")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoldap")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
