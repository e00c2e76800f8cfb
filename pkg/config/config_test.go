package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MinimalConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"

staging:
  type: "memory"

hash:
  algorithm: "BLAKE3"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Hash.Algorithm != "blake3" {
		t.Errorf("Expected algorithm normalized to 'blake3', got %q", cfg.Hash.Algorithm)
	}
	if cfg.Staging.Type != "memory" {
		t.Errorf("Expected staging type 'memory', got %q", cfg.Staging.Type)
	}
	if cfg.Permanent.Type != "filesystem" {
		t.Errorf("Expected default permanent type 'filesystem', got %q", cfg.Permanent.Type)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.Transfer.Port != 7070 {
		t.Errorf("Expected default transfer port 7070, got %d", cfg.Adapters.Transfer.Port)
	}
	if !cfg.Adapters.Transfer.Enabled {
		t.Error("Expected transfer adapter enabled by default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Explicit path that does not exist, so the user's own config is never read
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Staging.Type != "filesystem" {
		t.Errorf("Expected default staging type 'filesystem', got %q", cfg.Staging.Type)
	}
	if cfg.Metadata.Type != "memory" {
		t.Errorf("Expected default metadata type 'memory', got %q", cfg.Metadata.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("logging:\n  level: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
adapters:
  transfer:
    enabled: true
    port: 7070
    codec: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown codec")
	}
}

func TestLoad_StoreSpecificSections(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
permanent:
  type: s3
  s3:
    region: eu-west-1
    bucket: archive
    part_size: 10485760

metadata:
  type: bolt
  bolt:
    path: /var/lib/dittostore/snapshots.db

collector:
  enabled: false
  interval: 30s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Permanent.S3["bucket"] != "archive" {
		t.Errorf("Expected s3 bucket 'archive', got %v", cfg.Permanent.S3["bucket"])
	}
	if cfg.Metadata.Bolt["path"] != "/var/lib/dittostore/snapshots.db" {
		t.Errorf("Expected bolt path to be preserved, got %v", cfg.Metadata.Bolt["path"])
	}
	if cfg.Collector.Enabled {
		t.Error("Expected collector to stay disabled")
	}
	if cfg.Collector.Interval != 30*time.Second {
		t.Errorf("Expected collector interval 30s, got %v", cfg.Collector.Interval)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := GetConfigDir()
	if dir != filepath.Join(xdg, "dittostore") {
		t.Errorf("Expected %q, got %q", filepath.Join(xdg, "dittostore"), dir)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh directory")
	}

	if err := InitConfigToPath(GetDefaultConfigPath(), false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	if !ConfigExists() {
		t.Error("Expected config to exist after init")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOSTORE_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOSTORE_ADAPTERS_TRANSFER_PORT", "7171")
	t.Setenv("DITTOSTORE_HASH_ALGORITHM", "blake3")

	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
logging:
  level: "INFO"

adapters:
  transfer:
    enabled: true
    port: 7070
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.Transfer.Port != 7171 {
		t.Errorf("Expected port 7171 from env var, got %d", cfg.Adapters.Transfer.Port)
	}
	if cfg.Hash.Algorithm != "blake3" {
		t.Errorf("Expected algorithm 'blake3' from env var (not in file), got %q", cfg.Hash.Algorithm)
	}
}
