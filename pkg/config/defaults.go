package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/adapter/transfer"
	"github.com/marmos91/dittostore/pkg/hasher"
	"github.com/marmos91/dittostore/pkg/protocol"
)

// Default locations used when the configuration leaves them unset.
const (
	DefaultStagingPath   = "/tmp/dittostore-staging"
	DefaultPermanentPath = "/tmp/dittostore-permanent"
	DefaultMetadataDir   = "/tmp/dittostore-metadata"
	DefaultMetricsPort   = 9090
)

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
	applyHashDefaults(&cfg.Hash)
	applyContentDefaults(&cfg.Staging, DefaultStagingPath, "mem://staging")
	applyContentDefaults(&cfg.Permanent, DefaultPermanentPath, "mem://permanent")
	applyMetadataDefaults(&cfg.Metadata)
	applyCollectorDefaults(&cfg.Collector)
	applyMetricsDefaults(&cfg.Metrics)
	applyAdaptersDefaults(&cfg.Adapters)
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
}

func applyHashDefaults(cfg *HashConfig) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = string(hasher.Default)
	}
	cfg.Algorithm = strings.ToLower(cfg.Algorithm)
}

// applyContentDefaults sets content store defaults for one store section.
func applyContentDefaults(cfg *ContentConfig, path, memoryRoot string) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = path
	}
	if _, ok := cfg.Memory["root"]; !ok {
		cfg.Memory["root"] = memoryRoot
	}
}

// applyMetadataDefaults sets snapshot store defaults.
func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Bolt == nil {
		cfg.Bolt = make(map[string]any)
	}
	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}

	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = DefaultMetadataDir + "/badger"
	}
	if _, ok := cfg.Bolt["path"]; !ok {
		cfg.Bolt["path"] = DefaultMetadataDir + "/snapshots.db"
	}
	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = DefaultMetadataDir + "/snapshots.yaml"
	}
}

// applyCollectorDefaults enables the collector unless it was explicitly
// configured. A section with no interval is treated as unconfigured, so
// "enabled: false" together with an interval disables it.
func applyCollectorDefaults(cfg *CollectorConfig) {
	if !cfg.Enabled && cfg.Interval == 0 && cfg.IdleTimeout == 0 {
		cfg.Enabled = true
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the transfer adapter when the section was left out entirely
	// (port 0). Users can set enabled: false with a port to disable it.
	if !cfg.Transfer.Enabled && cfg.Transfer.Port == 0 {
		cfg.Transfer.Enabled = true
	}

	applyTransferDefaults(&cfg.Transfer)
}

// applyTransferDefaults sets transfer adapter defaults.
func applyTransferDefaults(cfg *transfer.Config) {
	if cfg.Port == 0 {
		cfg.Port = transfer.DefaultPort
	}

	// MaxConnections defaults to 0 (unlimited)

	if cfg.Codec == "" {
		cfg.Codec = "cbor"
	}
	if cfg.Compression == "" {
		cfg.Compression = protocol.CompressionNone.String()
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Shutdown == 0 {
		cfg.Timeouts.Shutdown = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
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
		Collector: CollectorConfig{Enabled: true},
		Adapters: AdaptersConfig{
			Transfer: transfer.Config{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
