// Package transfer exposes the upload service over TCP.
//
// Each accepted connection is wrapped in a framed transport.StreamChannel
// and handed to upload.Service, which runs the session protocol until the
// client disconnects, the connection idles out or the adapter shuts down.
package transfer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/protocol"
	"github.com/marmos91/dittostore/pkg/transport"
	"github.com/marmos91/dittostore/pkg/upload"
)

// TransferAdapter implements adapter.Adapter for the upload protocol.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (upload loops stop and close their sessions)
//  4. Wait for active connections to complete (up to Timeouts.Shutdown)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown is guarded by sync.Once.
type TransferAdapter struct {
	config  Config
	svc     *upload.Service
	metrics metrics.TransferMetrics

	// streamOpts is derived once from config and shared by all connections
	streamOpts transport.StreamOptions
	limits     *ratelimiter.Factory

	// mu guards listener, which is set by Serve and read by Port
	mu       sync.Mutex
	listener net.Listener

	// listening is closed once the listener is bound
	listening chan struct{}

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}
	connCount    atomic.Int32

	// connSemaphore limits concurrent connections; nil when unlimited
	connSemaphore chan struct{}

	// shutdownCtx is passed to every connection and cancelled on shutdown
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure
	activeConnections sync.Map
}

// New creates a TransferAdapter with the given configuration.
//
// Zero values in config are replaced with defaults. An invalid
// configuration panics, since pkg/config validates it before this point.
//
// Parameters:
//   - config: Adapter configuration (port, codec, timeouts, limits)
//   - m: Optional metrics sink (nil for no metrics)
//
// Returns a configured but not yet started TransferAdapter.
func New(config Config, m metrics.TransferMetrics) *TransferAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid transfer config: %v", err))
	}

	codec, _ := protocol.NewCodec(config.Codec)
	compression, _ := protocol.ParseCompression(config.Compression)

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("Transfer connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("Transfer connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &TransferAdapter{
		config:  config,
		metrics: metrics.OrNoop(m),
		streamOpts: transport.StreamOptions{
			Codec:        codec,
			Compression:  compression,
			MaxFrameSize: config.MaxFrameSize,
			ReadTimeout:  config.Timeouts.Idle,
			WriteTimeout: config.Timeouts.Write,
		},
		limits:         config.limits(),
		listening:      make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetService injects the upload service. Called once before Serve.
func (s *TransferAdapter) SetService(svc *upload.Service) {
	s.svc = svc
	logger.Debug("Transfer upload service configured")
}

// Serve listens on the configured port and blocks until ctx is cancelled
// or the listener fails.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener cannot be created, no service was injected,
//     or connections had to be force-closed
func (s *TransferAdapter) Serve(ctx context.Context) error {
	if s.svc == nil {
		return fmt.Errorf("transfer adapter: no upload service configured")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create transfer listener on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.listening)

	// Stop may have run before the listener existed
	select {
	case <-s.shutdown:
		_ = listener.Close()
		return nil
	default:
	}

	logger.Info("Transfer server listening on port %d", s.Port())
	logger.Debug("Transfer config: codec=%s compression=%s max_connections=%d idle_timeout=%v write_timeout=%v",
		s.config.Codec, s.config.Compression, s.config.MaxConnections, s.config.Timeouts.Idle, s.config.Timeouts.Write)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Transfer shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting transfer connection: %v", err)
				continue
			}
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)

		logger.Debug("Transfer connection accepted from %s (active: %d)", connAddr, current)

		conn := newTransferConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)

				s.activeConns.Done()
				current := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)

				logger.Debug("Transfer connection closed from %s (active: %d)", addr, current)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown closes the listener and cancels in-flight connections.
// Safe to call multiple times.
func (s *TransferAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Transfer shutdown initiated")

		close(s.shutdown)

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing transfer listener: %v", err)
			}
		}

		// Upload loops see the cancellation, close their open sessions and return
		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections up to Timeouts.Shutdown,
// then force-closes whatever is left.
func (s *TransferAdapter) gracefulShutdown() error {
	logger.Info("Transfer graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.connCount.Load(), s.config.Timeouts.Shutdown)

	select {
	case <-s.connectionsDone():
		logger.Info("Transfer graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.Timeouts.Shutdown):
		remaining := s.connCount.Load()
		logger.Warn("Transfer shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.Timeouts.Shutdown)

		s.forceCloseConnections()

		return fmt.Errorf("transfer shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *TransferAdapter) connectionsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections closes every tracked TCP connection so blocked
// reads and writes fail immediately.
func (s *TransferAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d transfer connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx expires. Safe to call concurrently with Serve and more than once.
func (s *TransferAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	select {
	case <-s.connectionsDone():
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("Transfer shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count.
func (s *TransferAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("Transfer metrics: active_connections=%d", s.connCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (s *TransferAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Listening is closed once Serve has bound its listener.
func (s *TransferAdapter) Listening() <-chan struct{} {
	return s.listening
}

// Protocol returns "transfer".
func (s *TransferAdapter) Protocol() string {
	return "transfer"
}

// Port returns the bound port once listening, otherwise the configured one.
func (s *TransferAdapter) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}
