package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configTemplate is the commented sample written by `dittostore init`.
// Placeholders are filled from GetDefaultConfig so the file and the
// built-in defaults never drift apart.
const configTemplate = `# DittoStore Configuration File
#
# Every value below is the built-in default. Environment variables override
# the file using the DITTOSTORE_ prefix, e.g. DITTOSTORE_LOGGING_LEVEL=DEBUG.

logging:
  # DEBUG, INFO, WARN, ERROR
  level: %s
  # text or json
  format: %s
  # stdout, stderr or a file path
  output: %s

server:
  shutdown_timeout: %s

hash:
  # sha256 or blake3
  algorithm: %s

# Uploads land in the staging store
staging:
  # filesystem, memory or s3
  type: %s
  filesystem:
    path: %s
  s3:
    region: us-east-1
    bucket: ""
    key_prefix: staging/
    endpoint: ""

# Promote copies closed uploads into the permanent store
permanent:
  type: %s
  filesystem:
    path: %s

# Where registry snapshots are kept between restarts
metadata:
  # memory, badger, bolt or file
  type: %s
  badger:
    db_path: %s
  bolt:
    path: %s
  file:
    path: %s

# Closes write handles left open by vanished clients
collector:
  enabled: %t
  interval: %s
  idle_timeout: %s

metrics:
  enabled: %t
  port: %d

adapters:
  transfer:
    enabled: %t
    port: %d
    # 0 = unlimited
    max_connections: %d
    # cbor or xdr
    codec: %s
    # none, zstd or lz4
    compression: %s
    max_frame_size: %d
    timeouts:
      idle: %s
      write: %s
      shutdown: %s
    rate_limit:
      enabled: false
      requests_per_second: 0
      burst: 0
    metrics_log_interval: %s
`

// GenerateConfigYAML renders the default configuration as commented YAML.
func GenerateConfigYAML() ([]byte, error) {
	cfg := GetDefaultConfig()
	tr := cfg.Adapters.Transfer

	out := fmt.Sprintf(configTemplate,
		cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output,
		cfg.Server.ShutdownTimeout,
		cfg.Hash.Algorithm,
		cfg.Staging.Type, cfg.Staging.Filesystem["path"],
		cfg.Permanent.Type, cfg.Permanent.Filesystem["path"],
		cfg.Metadata.Type, cfg.Metadata.Badger["db_path"], cfg.Metadata.Bolt["path"], cfg.Metadata.File["path"],
		cfg.Collector.Enabled, cfg.Collector.Interval, cfg.Collector.IdleTimeout,
		cfg.Metrics.Enabled, cfg.Metrics.Port,
		tr.Enabled, tr.Port, tr.MaxConnections, tr.Codec, tr.Compression, tr.MaxFrameSize,
		tr.Timeouts.Idle, tr.Timeouts.Write, tr.Timeouts.Shutdown,
		tr.MetricsLogInterval,
	)

	// Catch template mistakes before anything reaches disk
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("generated config is not valid YAML: %w", err)
	}

	return []byte(out), nil
}

// InitConfig writes the sample configuration to the default location.
//
// Returns the path written, or an error if a file already exists and force
// is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := GenerateConfigYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
