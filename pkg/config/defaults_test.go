package config

import (
	"testing"
	"time"

	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LevelNormalized(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level normalized to 'WARN', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Server.Metrics.Port)
	}
	if cfg.Server.Metrics.Path != "/metrics" {
		t.Errorf("Expected default metrics path '/metrics', got %q", cfg.Server.Metrics.Path)
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 0 || cfg.Server.RateLimit.Burst != 0 {
		t.Errorf("Expected rate limiting off by default, got %+v", cfg.Server.RateLimit)
	}

	cfg = &Config{Server: ServerConfig{RateLimit: RateLimitConfig{RequestsPerSecond: 50}}}
	ApplyDefaults(cfg)
	if cfg.Server.RateLimit.Burst != 100 {
		t.Errorf("Expected burst to default to twice the rate, got %d", cfg.Server.RateLimit.Burst)
	}
}

func TestApplyDefaults_Directory(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if len(cfg.Directory.Partitions) != 1 {
		t.Fatalf("Expected 1 default partition, got %d", len(cfg.Directory.Partitions))
	}
	p := cfg.Directory.Partitions[0]
	if p.Suffix != DefaultSuffix {
		t.Errorf("Expected default suffix %q, got %q", DefaultSuffix, p.Suffix)
	}
	if p.Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", p.Store.Type)
	}
	if cfg.Directory.ChangeLog.Capacity != directory.DefaultChangeLogCapacity {
		t.Errorf("Expected default changelog capacity %d, got %d",
			directory.DefaultChangeLogCapacity, cfg.Directory.ChangeLog.Capacity)
	}
}

func TestApplyDefaults_Badger(t *testing.T) {
	cfg := &Config{
		Directory: DirectoryConfig{
			Partitions: []PartitionConfig{
				{Suffix: "o=a", Store: StoreConfig{Type: "badger"}},
				{Suffix: "o=b", Store: StoreConfig{Type: "badger", Badger: map[string]any{"block_cache_size_mb": 8}}},
			},
		},
	}
	ApplyDefaults(cfg)

	if got := cfg.Directory.Partitions[0].Store.Badger["block_cache_size_mb"]; got != 64 {
		t.Errorf("Expected default block cache 64, got %v", got)
	}
	if got := cfg.Directory.Partitions[1].Store.Badger["block_cache_size_mb"]; got != 8 {
		t.Errorf("Expected explicit block cache 8 to be preserved, got %v", got)
	}
}

func TestApplyDefaults_Sort(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Sort.RunSize != extsort.DefaultRunSize {
		t.Errorf("Expected default run size %d, got %d", extsort.DefaultRunSize, cfg.Sort.RunSize)
	}
	if cfg.Sort.GC.Interval != time.Hour || cfg.Sort.GC.MinAge != time.Hour {
		t.Errorf("Expected gc interval and min age of 1h, got %+v", cfg.Sort.GC)
	}
	if cfg.Sort.TempDir != "" {
		t.Errorf("Expected temp dir to stay empty, got %q", cfg.Sort.TempDir)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "ERROR", Format: "json", Output: "stderr"},
		Server:  ServerConfig{ShutdownTimeout: 5 * time.Second},
		Directory: DirectoryConfig{
			Partitions: []PartitionConfig{{Suffix: "o=corp", Store: StoreConfig{Type: "memory"}}},
			ChangeLog:  ChangeLogConfig{Capacity: 7},
		},
		Sort: SortConfig{TempDir: "/var/tmp/sort", RunSize: 10},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging values preserved, got %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected explicit shutdown timeout preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Directory.Partitions) != 1 || cfg.Directory.Partitions[0].Suffix != "o=corp" {
		t.Errorf("Expected explicit partitions preserved, got %+v", cfg.Directory.Partitions)
	}
	if cfg.Directory.ChangeLog.Capacity != 7 {
		t.Errorf("Expected explicit capacity preserved, got %d", cfg.Directory.ChangeLog.Capacity)
	}
	if cfg.Sort.TempDir != "/var/tmp/sort" || cfg.Sort.RunSize != 10 {
		t.Errorf("Expected explicit sort values preserved, got %+v", cfg.Sort)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}
