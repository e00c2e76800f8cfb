package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/adapter/transfer"
	"github.com/spf13/viper"
)

// Config represents the complete DittoStore configuration.
//
// This structure captures all configurable aspects of the server:
//   - Logging configuration
//   - Server-wide settings
//   - Digest algorithm used by both registries
//   - Staging and permanent content store selection (store-specific)
//   - Snapshot store selection (store-specific)
//   - Idle handle collector
//   - Prometheus metrics
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOSTORE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration and factory. The
// Config struct contains type-specific sections (e.g. staging.filesystem,
// staging.s3) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Hash selects the digest algorithm for file records
	Hash HashConfig `mapstructure:"hash"`

	// Staging is the content store uploads are written into
	Staging ContentConfig `mapstructure:"staging"`

	// Permanent is the content store files are promoted into
	Permanent ContentConfig `mapstructure:"permanent"`

	// Metadata selects where registry snapshots are persisted
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Collector configures the idle write handle collector
	Collector CollectorConfig `mapstructure:"collector"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// HashConfig selects the digest algorithm.
type HashConfig struct {
	// Algorithm is sha256 or blake3
	Algorithm string `mapstructure:"algorithm" validate:"required,oneof=sha256 blake3"`
}

// ContentConfig specifies a content store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// MetadataConfig specifies the snapshot store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MetadataConfig struct {
	// Type specifies which snapshot store implementation to use
	// Valid values: memory, badger, bolt, file
	Type string `mapstructure:"type" validate:"required,oneof=memory badger bolt file"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Bolt contains bbolt-specific configuration
	// Only used when Type = "bolt"
	Bolt map[string]any `mapstructure:"bolt"`

	// File contains YAML file store configuration
	// Only used when Type = "file"
	File map[string]any `mapstructure:"file"`
}

// CollectorConfig configures the idle handle collector.
type CollectorConfig struct {
	// Enabled runs the collector in the background
	Enabled bool `mapstructure:"enabled"`

	// Interval between collection cycles
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`

	// IdleTimeout is how long a write handle may sit unused before it is closed
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`
}

// MetricsConfig configures the Prometheus metrics server.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port for /metrics
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// Transfer contains the upload protocol adapter configuration.
	// Uses transfer.Config directly to avoid duplication.
	Transfer transfer.Config `mapstructure:"transfer"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSTORE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
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
	// Environment variables use the DITTOSTORE_ prefix and underscores
	// Example: DITTOSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittostore/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings that can be overridden from the
// environment without being present in the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"hash.algorithm",
	"staging.type",
	"permanent.type",
	"metadata.type",
	"collector.enabled",
	"collector.interval",
	"collector.idle_timeout",
	"metrics.enabled",
	"metrics.port",
	"adapters.transfer.enabled",
	"adapters.transfer.port",
	"adapters.transfer.max_connections",
	"adapters.transfer.codec",
	"adapters.transfer.compression",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittostore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittostore")
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

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
