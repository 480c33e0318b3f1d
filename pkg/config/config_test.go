package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug
  format: json

server:
  shutdown_timeout: 10s
  allow_anonymous: true

directory:
  partitions:
    - suffix: dc=example,dc=com
      store:
        type: memory
    - suffix: o=archive
      store:
        type: badger
        badger:
          in_memory: true
  changelog:
    enabled: true
    capacity: 50

sort:
  run_size: 500
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected logging level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected logging format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Directory.Partitions) != 2 {
		t.Fatalf("Expected 2 partitions, got %d", len(cfg.Directory.Partitions))
	}
	if cfg.Directory.Partitions[1].Store.Type != "badger" {
		t.Errorf("Expected second partition on badger, got %q", cfg.Directory.Partitions[1].Store.Type)
	}
	if inMemory, _ := cfg.Directory.Partitions[1].Store.Badger["in_memory"].(bool); !inMemory {
		t.Errorf("Expected badger in_memory option to be decoded, got %v", cfg.Directory.Partitions[1].Store.Badger)
	}
	if cfg.Directory.ChangeLog.Capacity != 50 {
		t.Errorf("Expected changelog capacity 50, got %d", cfg.Directory.ChangeLog.Capacity)
	}
	if cfg.Sort.RunSize != 500 {
		t.Errorf("Expected run size 500, got %d", cfg.Sort.RunSize)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected defaults when config file is missing, got error: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default logging level 'INFO', got %q", cfg.Logging.Level)
	}
	if len(cfg.Directory.Partitions) != 1 || cfg.Directory.Partitions[0].Suffix != DefaultSuffix {
		t.Errorf("Expected the default partition, got %+v", cfg.Directory.Partitions)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("logging:\n  level: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
directory:
  partitions:
    - suffix: dc=example,dc=com
      store:
        type: ldif
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for unknown store type, got nil")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if !cfg.Server.AllowAnonymous {
		t.Error("Expected anonymous access to be allowed by default")
	}
	if !cfg.Directory.ChangeLog.Enabled {
		t.Error("Expected the change log to be enabled by default")
	}
	if len(cfg.Directory.Partitions) != 1 {
		t.Fatalf("Expected 1 default partition, got %d", len(cfg.Directory.Partitions))
	}
	if cfg.Directory.Partitions[0].Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", cfg.Directory.Partitions[0].Store.Type)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config file in a fresh directory")
	}

	if err := InitConfigToPath(GetDefaultConfigPath(), false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config file to exist after init")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()
	if path == "" {
		t.Error("Expected non-empty default config path")
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected path to end with config.yaml, got %s", path)
	}
}

func TestGetConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if dir := GetConfigDir(); dir != filepath.Join(xdg, "dittoldap") {
		t.Errorf("Expected config dir under XDG_CONFIG_HOME, got %s", dir)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: info
sort:
  run_size: 100
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("DITTOLDAP_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOLDAP_SORT_RUN_SIZE", "25")
	t.Setenv("DITTOLDAP_SERVER_ALLOW_ANONYMOUS", "false")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected env var to override logging level to 'ERROR', got %q", cfg.Logging.Level)
	}
	if cfg.Sort.RunSize != 25 {
		t.Errorf("Expected env var to override run size to 25, got %d", cfg.Sort.RunSize)
	}
	if cfg.Server.AllowAnonymous {
		t.Error("Expected env var to disable anonymous access")
	}
}
