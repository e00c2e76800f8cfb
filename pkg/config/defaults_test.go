package config

import (
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/adapter/transfer"
)

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" || cfg.Logging.Output != "stdout" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Hash.Algorithm != "sha256" {
		t.Errorf("Expected default algorithm 'sha256', got %q", cfg.Hash.Algorithm)
	}
	if cfg.Staging.Filesystem["path"] != DefaultStagingPath {
		t.Errorf("Expected staging path %q, got %v", DefaultStagingPath, cfg.Staging.Filesystem["path"])
	}
	if cfg.Permanent.Filesystem["path"] != DefaultPermanentPath {
		t.Errorf("Expected permanent path %q, got %v", DefaultPermanentPath, cfg.Permanent.Filesystem["path"])
	}
	if cfg.Metadata.Type != "memory" {
		t.Errorf("Expected metadata type 'memory', got %q", cfg.Metadata.Type)
	}
	if !cfg.Collector.Enabled {
		t.Error("Expected collector enabled when unconfigured")
	}
	if cfg.Collector.Interval != time.Minute || cfg.Collector.IdleTimeout != 10*time.Minute {
		t.Errorf("Unexpected collector defaults: %+v", cfg.Collector)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Expected metrics port %d, got %d", DefaultMetricsPort, cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Transfer(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	tr := cfg.Adapters.Transfer
	if !tr.Enabled {
		t.Error("Expected transfer adapter enabled when unconfigured")
	}
	if tr.Port != transfer.DefaultPort {
		t.Errorf("Expected port %d, got %d", transfer.DefaultPort, tr.Port)
	}
	if tr.Codec != "cbor" || tr.Compression != "none" {
		t.Errorf("Expected cbor/none, got %s/%s", tr.Codec, tr.Compression)
	}
	if tr.Timeouts.Idle != 5*time.Minute {
		t.Errorf("Expected idle timeout 5m, got %v", tr.Timeouts.Idle)
	}
	if tr.Timeouts.Write != 30*time.Second {
		t.Errorf("Expected write timeout 30s, got %v", tr.Timeouts.Write)
	}
	if tr.Timeouts.Shutdown != 30*time.Second {
		t.Errorf("Expected shutdown timeout 30s, got %v", tr.Timeouts.Shutdown)
	}
	if tr.MaxConnections != 0 {
		t.Errorf("Expected unlimited connections, got %d", tr.MaxConnections)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "/var/log/dittostore.log"},
		Hash:    HashConfig{Algorithm: "blake3"},
		Staging: ContentConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"path": "/data/staging"},
		},
		Collector: CollectorConfig{Interval: 5 * time.Second, IdleTimeout: time.Minute},
		Adapters: AdaptersConfig{
			Transfer: transfer.Config{
				Enabled:     true,
				Port:        9000,
				Codec:       "xdr",
				Compression: "zstd",
				Timeouts:    transfer.TimeoutsConfig{Idle: time.Minute},
			},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "/var/log/dittostore.log" {
		t.Errorf("Logging values overwritten: %+v", cfg.Logging)
	}
	if cfg.Staging.Filesystem["path"] != "/data/staging" {
		t.Errorf("Staging path overwritten: %v", cfg.Staging.Filesystem["path"])
	}
	if cfg.Collector.Enabled {
		t.Error("Collector with explicit settings and enabled unset must stay disabled")
	}
	if cfg.Collector.Interval != 5*time.Second {
		t.Errorf("Collector interval overwritten: %v", cfg.Collector.Interval)
	}
	tr := cfg.Adapters.Transfer
	if tr.Port != 9000 || tr.Codec != "xdr" || tr.Compression != "zstd" || tr.Timeouts.Idle != time.Minute {
		t.Errorf("Transfer values overwritten: %+v", tr)
	}
}

func TestApplyDefaults_TransferDisabled(t *testing.T) {
	cfg := &Config{
		Adapters: AdaptersConfig{
			Transfer: transfer.Config{Enabled: false, Port: 7070},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Adapters.Transfer.Enabled {
		t.Error("Explicitly configured adapter must stay disabled")
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
}
