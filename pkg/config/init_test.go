package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# DittoStore Configuration File",
		"logging:",
		"hash:",
		"staging:",
		"permanent:",
		"metadata:",
		"collector:",
		"adapters:",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("stale: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "stale") {
		t.Error("Expected old content to be replaced")
	}
}

func TestGeneratedConfigValuesAreCorrect(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("Failed to generate config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	defaults := GetDefaultConfig()

	if cfg.Logging.Level != defaults.Logging.Level {
		t.Errorf("Expected level %q, got %q", defaults.Logging.Level, cfg.Logging.Level)
	}
	if cfg.Hash.Algorithm != defaults.Hash.Algorithm {
		t.Errorf("Expected algorithm %q, got %q", defaults.Hash.Algorithm, cfg.Hash.Algorithm)
	}
	if cfg.Staging.Filesystem["path"] != DefaultStagingPath {
		t.Errorf("Expected staging path %q, got %v", DefaultStagingPath, cfg.Staging.Filesystem["path"])
	}
	if cfg.Collector != defaults.Collector {
		t.Errorf("Expected collector %+v, got %+v", defaults.Collector, cfg.Collector)
	}
	if cfg.Adapters.Transfer != defaults.Adapters.Transfer {
		t.Errorf("Expected transfer %+v, got %+v", defaults.Adapters.Transfer, cfg.Adapters.Transfer)
	}
}
