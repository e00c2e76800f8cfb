package transfer

import (
	"fmt"
	"time"

	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/protocol"
)

// DefaultPort is the TCP port the transfer adapter listens on by default.
const DefaultPort = 7070

// Config holds configuration parameters for the transfer adapter.
//
// Default values (applied by New if zero):
//   - MaxConnections: 0 (unlimited)
//   - Codec: cbor
//   - Compression: none
//   - MaxFrameSize: 4MB
//   - Timeouts.Idle: 5m
//   - Timeouts.Write: 30s
//   - Timeouts.Shutdown: 30s
//   - MetricsLogInterval: 5m
type Config struct {
	// Enabled controls whether the transfer adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on. The configuration layer defaults
	// it to 7070; 0 here binds an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent client connections. Accepting blocks
	// while the limit is reached. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// Codec selects the message encoding: cbor or xdr.
	Codec string `mapstructure:"codec" validate:"omitempty,oneof=cbor xdr"`

	// Compression applied to outgoing frames: none, zstd or lz4.
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none zstd lz4"`

	// MaxFrameSize bounds a single decoded frame in bytes.
	MaxFrameSize int `mapstructure:"max_frame_size" validate:"min=0"`

	// Timeouts for connection I/O and shutdown.
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	// RateLimit throttles inbound messages per connection.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// MetricsLogInterval is the interval at which the active connection
	// count is logged. 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// TimeoutsConfig groups the adapter timeouts.
type TimeoutsConfig struct {
	// Idle is how long a connection may wait for its next message.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`

	// Write bounds sending one reply.
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Shutdown is how long graceful shutdown waits before force-closing
	// the remaining connections.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"min=0"`
}

// RateLimitConfig configures per-connection message throttling.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	// Enabled is defaulted in pkg/config so an explicit false survives.

	if c.Codec == "" {
		c.Codec = "cbor"
	}
	if c.Compression == "" {
		c.Compression = protocol.CompressionNone.String()
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks the configuration after defaults have been applied.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if _, err := protocol.NewCodec(c.Codec); err != nil {
		return err
	}
	if _, err := protocol.ParseCompression(c.Compression); err != nil {
		return err
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("invalid MaxFrameSize %d: must be >= 0", c.MaxFrameSize)
	}
	if c.Timeouts.Idle < 0 || c.Timeouts.Write < 0 {
		return fmt.Errorf("invalid timeouts: must be >= 0")
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("invalid shutdown timeout %v: must be > 0", c.Timeouts.Shutdown)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("rate_limit enabled but requests_per_second is 0")
	}
	return nil
}

// limits returns the per-connection limiter factory, or nil when rate
// limiting is disabled.
func (c *Config) limits() *ratelimiter.Factory {
	if !c.RateLimit.Enabled {
		return nil
	}
	return &ratelimiter.Factory{
		MessagesPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
	}
}
