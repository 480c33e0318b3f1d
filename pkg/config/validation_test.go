package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "TRACE"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "Level") {
		t.Errorf("Expected error to mention Level, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for invalid log format, got nil")
	}
}

func TestValidate_InvalidStoreType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Directory.Partitions[0].Store.Type = "ldif"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for invalid store type, got nil")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected oneof validation error, got: %v", err)
	}
}

func TestValidate_NoPartitions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Directory.Partitions = nil

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for no partitions, got nil")
	}
	if !strings.Contains(err.Error(), "at least one partition") {
		t.Errorf("Expected 'at least one partition' error, got: %v", err)
	}
}

func TestValidate_InvalidSuffix(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Directory.Partitions[0].Suffix = "not a dn"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for invalid suffix, got nil")
	}
	if !strings.Contains(err.Error(), "invalid suffix") {
		t.Errorf("Expected 'invalid suffix' error, got: %v", err)
	}
}

func TestValidate_EmptySuffix(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Directory.Partitions[0].Suffix = ""

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for empty suffix, got nil")
	}
}

func TestValidate_DuplicateSuffixes(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Directory.Partitions = append(cfg.Directory.Partitions, PartitionConfig{
		Suffix: "DC=Example,DC=Com",
		Store:  StoreConfig{Type: "memory"},
	})

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for duplicate suffixes, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate suffix") {
		t.Errorf("Expected 'duplicate suffix' error, got: %v", err)
	}
}

func TestValidate_BadgerRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Directory.Partitions[0].Store = StoreConfig{Type: "badger", Badger: map[string]any{}}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for badger store without path, got nil")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}

	cfg.Directory.Partitions[0].Store.Badger["in_memory"] = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected in-memory badger store to be valid, got: %v", err)
	}

	cfg.Directory.Partitions[0].Store.Badger = map[string]any{"path": "/var/lib/dittoldap"}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected badger store with path to be valid, got: %v", err)
	}
}

func TestValidate_InvalidShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for zero shutdown timeout, got nil")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Port = 70000

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for out of range metrics port, got nil")
	}
}

func TestValidate_InvalidMetricsPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Path = "metrics"

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for metrics path without leading slash, got nil")
	}
}

func TestValidate_NegativeRunSize(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Sort.RunSize = -1

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for negative run size, got nil")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "ERROR"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected level %q to be valid, got: %v", level, err)
		}
		if cfg.Logging.Level != strings.ToUpper(level) {
			t.Errorf("Expected level normalized to %q, got %q", strings.ToUpper(level), cfg.Logging.Level)
		}
	}
}

func TestValidate_NegativeGCInterval(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Sort.GC.Interval = -time.Minute

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for negative gc interval, got nil")
	}
}
