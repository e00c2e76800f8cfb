package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/adapter"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/gc"
	"github.com/marmos91/dittostore/pkg/hasher"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/upload"
)

// Config holds the stores and settings a DittoServer is built from.
type Config struct {
	// Staging is the content store uploads are written into (required)
	Staging content.Store

	// Permanent is the content store files are promoted into. Nil disables
	// promotion.
	Permanent content.Store

	// Snapshots persists registry indices across restarts. Nil means every
	// start rebuilds the registries by rescanning the content stores.
	Snapshots metadata.SnapshotStore

	// Algorithm is the digest algorithm for both registries
	Algorithm hasher.Algorithm

	// Metrics records upload activity (nil = no metrics)
	Metrics metrics.TransferMetrics

	// Collector configures idle handle collection. Its Checkpoint hook is
	// set by the server.
	Collector gc.Config

	// StopTimeout bounds how long adapters get to shut down (default: 30s)
	StopTimeout time.Duration
}

// DittoServer manages the lifecycle of the file registries and of the
// protocol adapters that expose them.
//
// Lifecycle:
//  1. Creation: New() with stores
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() restores the registries, wires the upload service
//     into every adapter and starts them concurrently
//  4. Shutdown: context cancellation stops the adapters, closes every open
//     write handle and saves registry snapshots
//
// Thread safety:
// DittoServer is safe for concurrent use. Serve() may only be called once.
type DittoServer struct {
	config Config

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and the registries
	mu sync.RWMutex

	// served is set by the first Serve() call
	served atomic.Bool

	staging   *filestore.FileStore
	permanent *filestore.FileStore
}

// New creates a new DittoServer over the given stores.
//
// Panics if config.Staging is nil (indicates programmer error).
func New(config Config) *DittoServer {
	if config.Staging == nil {
		panic("staging content store cannot be nil")
	}
	if config.Algorithm == "" {
		config.Algorithm = hasher.Default
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 30 * time.Second
	}

	return &DittoServer{
		config:   config,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a new protocol adapter with the server.
//
// Returns an error if an adapter for the same protocol, or on the same
// non-ephemeral port, is already registered.
//
// Panics if the adapter is nil or Serve() has already been called.
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}
	if s.served.Load() {
		panic("cannot add adapter after Serve() has been called")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Open restores the staging and permanent registries. Serve calls it if it
// has not been called yet; calling it earlier lets callers inspect the
// registries before adapters start.
func (s *DittoServer) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staging != nil {
		return nil
	}

	staging, err := s.openRegistry(ctx, s.config.Staging)
	if err != nil {
		return fmt.Errorf("open staging registry: %w", err)
	}

	var permanent *filestore.FileStore
	if s.config.Permanent != nil {
		permanent, err = s.openRegistry(ctx, s.config.Permanent)
		if err != nil {
			return fmt.Errorf("open permanent registry: %w", err)
		}
	}

	s.staging = staging
	s.permanent = permanent
	return nil
}

// openRegistry restores a registry from its snapshot, then adopts any
// backing files the snapshot does not know about.
func (s *DittoServer) openRegistry(ctx context.Context, store content.Store) (*filestore.FileStore, error) {
	var registry *filestore.FileStore

	if s.config.Snapshots != nil {
		snap, err := s.config.Snapshots.LoadSnapshot(ctx, store.Root())
		switch {
		case err == nil && snap.Algorithm != "" && snap.Algorithm != string(s.config.Algorithm):
			// Recorded digests are useless under a different algorithm
			logger.Warn("Discarding snapshot for %s: algorithm %s, configured %s",
				store.Root(), snap.Algorithm, s.config.Algorithm)
		case err == nil:
			registry, err = filestore.Restore(ctx, store, snap, filestore.WithAlgorithm(s.config.Algorithm))
			if err != nil {
				return nil, err
			}
			logger.Info("Restored %d files for %s from snapshot", registry.Len(), store.Root())
		case errors.Is(err, metadata.ErrSnapshotNotFound):
			logger.Debug("No snapshot for %s", store.Root())
		default:
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
	}

	if registry == nil {
		registry = filestore.New(store, filestore.WithAlgorithm(s.config.Algorithm))
	}

	if e, ok := store.(content.Enumerator); ok {
		if _, err := registry.Rescan(ctx, e); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// Checkpoint saves snapshots of both registries. It is a no-op without a
// snapshot store or before Open.
func (s *DittoServer) Checkpoint(ctx context.Context) error {
	if s.config.Snapshots == nil {
		return nil
	}

	for _, registry := range s.registries() {
		if err := s.config.Snapshots.SaveSnapshot(ctx, registry.Snapshot()); err != nil {
			return fmt.Errorf("save snapshot for %s: %w", registry.Root(), err)
		}
	}
	return nil
}

// Serve restores the registries, starts all registered adapters and blocks
// until the context is cancelled or an adapter fails.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails:
//   - All adapters receive Stop() calls in reverse registration order
//   - The idle handle collector is stopped
//   - Every open write handle is closed, finalizing its digest
//   - Registry snapshots are saved and the snapshot store is closed
//
// Returns:
//   - context.Canceled (or the context's error) on signal-driven shutdown
//   - error if startup failed or an adapter encountered an error
//
// Panics if Serve() is called more than once on the same DittoServer instance.
func (s *DittoServer) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		panic("Serve() has already been called on this server instance")
	}
	return s.serve(ctx)
}

func (s *DittoServer) serve(ctx context.Context) error {
	s.mu.RLock()
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	// ========================================================================
	// Step 1: Restore registries and wire the upload service
	// ========================================================================

	defer s.closeSnapshots()

	if err := s.Open(ctx); err != nil {
		return err
	}

	opts := []upload.Option{upload.WithMetrics(s.config.Metrics)}
	if s.permanent != nil {
		opts = append(opts, upload.WithPermanent(s.permanent))
	}
	svc := upload.NewService(s.staging, opts...)

	for _, a := range adapters {
		a.SetService(svc)
	}

	// ========================================================================
	// Step 2: Start the collector
	// ========================================================================

	collectorConfig := s.config.Collector
	collectorConfig.Checkpoint = s.Checkpoint
	targets := []gc.IdleCloser{s.staging}
	if s.permanent != nil {
		targets = append(targets, s.permanent)
	}
	collector := gc.NewCollector(collectorConfig, targets...)
	collector.Start()

	// ========================================================================
	// Step 3: Start adapters and wait
	// ========================================================================

	logger.Info("Starting DittoServer with %d adapter(s)", len(adapters))

	// Buffered so a failing adapter never blocks
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	// ========================================================================
	// Step 4: Shut down in dependency order
	// ========================================================================

	s.stopAllAdapters(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.StopTimeout)
	defer cancel()

	if err := collector.Stop(stopCtx); err != nil {
		logger.Warn("Collector did not stop cleanly: %v", err)
	}

	for _, registry := range s.registries() {
		registry.CloseAll(stopCtx)
	}

	if err := s.Checkpoint(stopCtx); err != nil {
		logger.Error("Final checkpoint failed: %v", err)
		if shutdownErr == nil || errors.Is(shutdownErr, context.Canceled) {
			shutdownErr = err
		}
	}

	logger.Info("DittoServer stopped gracefully")

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters initiates graceful shutdown of all adapters in reverse
// registration order. Errors are logged and do not stop the loop.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

func (s *DittoServer) closeSnapshots() {
	if s.config.Snapshots == nil {
		return
	}
	if err := s.config.Snapshots.Close(); err != nil {
		logger.Warn("Error closing snapshot store: %v", err)
	}
}

// registries returns the opened registries, staging first.
func (s *DittoServer) registries() []*filestore.FileStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*filestore.FileStore
	if s.staging != nil {
		out = append(out, s.staging)
	}
	if s.permanent != nil {
		out = append(out, s.permanent)
	}
	return out
}

// Status reports file and handle counts of the opened registries. It is
// empty before Open.
func (s *DittoServer) Status() []metrics.RegistryStatus {
	s.mu.RLock()
	staging, permanent := s.staging, s.permanent
	s.mu.RUnlock()

	var out []metrics.RegistryStatus
	for _, r := range []struct {
		role  string
		store *filestore.FileStore
	}{{"staging", staging}, {"permanent", permanent}} {
		if r.store == nil {
			continue
		}
		writers, readers := r.store.OpenHandles()
		out = append(out, metrics.RegistryStatus{
			Role:        r.role,
			Root:        r.store.Root(),
			Algorithm:   string(r.store.Algorithm()),
			Files:       r.store.Len(),
			OpenWriters: writers,
			OpenReaders: readers,
		})
	}
	return out
}

// Staging returns the staging registry, or nil before Open.
func (s *DittoServer) Staging() *filestore.FileStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staging
}

// Permanent returns the permanent registry, or nil before Open or when no
// permanent store is configured.
func (s *DittoServer) Permanent() *filestore.FileStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permanent
}

// Adapters returns a snapshot of currently registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
