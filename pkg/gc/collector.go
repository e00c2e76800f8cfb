// Package gc reclaims write handles that clients abandoned.
//
// An upload session whose client stops sending chunks without an
// EndOfStream, and without disconnecting, keeps its write handle open
// forever. The collector periodically closes write handles that have been
// idle longer than the configured timeout, finalizing whatever was written.
//
// Each cycle can also run a checkpoint hook, which the server uses to
// persist registry snapshots.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/filestore"
)

// IdleCloser is the part of a registry the collector needs.
type IdleCloser interface {
	Root() string
	CloseIdle(ctx context.Context, idle time.Duration) []filestore.FileID
}

var _ IdleCloser = (*filestore.FileStore)(nil)

// Collector performs periodic idle handle collection on registries.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	targets []IdleCloser
	config  Config

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether collection is active
	Enabled bool

	// Interval is how often to run a cycle (default: 1m)
	Interval time.Duration

	// IdleTimeout is how long a write handle may sit unused before it is
	// closed (default: 10m)
	IdleTimeout time.Duration

	// Checkpoint, if set, runs at the end of every cycle. Errors are logged.
	Checkpoint func(ctx context.Context) error
}

// NewCollector creates a collector over targets. It is not started.
func NewCollector(config Config, targets ...IdleCloser) *Collector {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}

	return &Collector{
		targets: targets,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins background collection. Subsequent calls are no-ops.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Idle handle collection disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting idle handle collector: interval=%s idle_timeout=%s registries=%d",
			c.config.Interval, c.config.IdleTimeout, len(c.targets))
		go c.worker()
	})
}

// Stop signals the worker and waits for the current cycle to finish.
// Safe to call multiple times.
//
// Returns ctx.Err() if ctx expires before the worker exits.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.stopOnce.Do(func() {
		logger.Info("Stopping idle handle collector...")
		close(c.stopCh)
	})

	// Never started: nothing to wait for
	c.startOnce.Do(func() { close(c.doneCh) })

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Idle handle collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one cycle immediately and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Interval)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Idle handle collection failed: %v", err)
			} else if stats.ClosedCount > 0 {
				logger.Info("Idle handle collection completed: %s", stats.Summary())
			} else {
				logger.Debug("Idle handle collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect closes idle writers in every target, then runs the checkpoint.
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	for _, target := range c.targets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		closed := target.CloseIdle(ctx, c.config.IdleTimeout)
		stats.RegistryCount++
		stats.ClosedCount += uint64(len(closed))

		for _, id := range closed {
			logger.Warn("Closed idle upload %s in %s after %s without activity",
				id, target.Root(), c.config.IdleTimeout)
		}
	}

	if c.config.Checkpoint != nil {
		if err := c.config.Checkpoint(ctx); err != nil {
			return stats, fmt.Errorf("checkpoint: %w", err)
		}
		stats.Checkpointed = true
	}

	return stats, nil
}

// Stats contains statistics from one collection cycle.
type Stats struct {
	StartTime     time.Time
	EndTime       time.Time
	RegistryCount int    // Registries scanned
	ClosedCount   uint64 // Write handles closed
	Checkpointed  bool   // Checkpoint hook ran successfully
}

// Duration returns the total cycle duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the cycle.
func (s *Stats) Summary() string {
	return fmt.Sprintf("registries=%d closed=%d checkpointed=%v duration=%s",
		s.RegistryCount, s.ClosedCount, s.Checkpointed, s.Duration())
}
