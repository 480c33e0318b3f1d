package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/gc"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

// DefaultSuffix is the naming context created when none is configured.
const DefaultSuffix = "dc=example,dc=com"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDirectoryDefaults(&cfg.Directory)
	applySortDefaults(&cfg.Sort)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond * 2
	}
}

// applyDirectoryDefaults adds a memory-backed partition if none is configured
// and fills in store defaults.
func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if len(cfg.Partitions) == 0 {
		cfg.Partitions = []PartitionConfig{{Suffix: DefaultSuffix}}
	}

	for i := range cfg.Partitions {
		applyStoreDefaults(&cfg.Partitions[i].Store)
	}

	if cfg.ChangeLog.Capacity == 0 {
		cfg.ChangeLog.Capacity = directory.DefaultChangeLogCapacity
	}
}

// applyStoreDefaults sets store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Type == "badger" {
		if cfg.Badger == nil {
			cfg.Badger = make(map[string]any)
		}
		if _, ok := cfg.Badger["block_cache_size_mb"]; !ok {
			cfg.Badger["block_cache_size_mb"] = 64
		}
	}
}

// applySortDefaults sets sort engine defaults. An empty TempDir is left for
// the sorter to resolve to the system temp directory.
func applySortDefaults(cfg *SortConfig) {
	if cfg.RunSize == 0 {
		cfg.RunSize = extsort.DefaultRunSize
	}
	if cfg.GC.Interval == 0 {
		cfg.GC.Interval = time.Hour
	}
	if cfg.GC.MinAge == 0 {
		cfg.GC.MinAge = time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			AllowAnonymous: true,
		},
		Directory: DirectoryConfig{
			ChangeLog: ChangeLogConfig{
				Enabled: true,
			},
		},
		Sort: SortConfig{
			GC: gc.Config{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
