package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegistryStatus summarizes one file registry for the health endpoint.
type RegistryStatus struct {
	Role        string `json:"role"`
	Root        string `json:"root"`
	Algorithm   string `json:"algorithm"`
	Files       int    `json:"files"`
	OpenWriters int    `json:"open_writers"`
	OpenReaders int    `json:"open_readers"`
}

// StatusFunc reports the registries currently served.
type StatusFunc func() []RegistryStatus

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status     string           `json:"status"`
	Registries []RegistryStatus `json:"registries,omitempty"`
}

// Server is the operator HTTP endpoint of a dittostore process.
//
// Endpoints:
//   - GET /metrics: upload protocol metrics in Prometheus format
//   - GET /health: registry counts as JSON; 503 until the registries are open
//   - GET /: plain text list of the above
type Server struct {
	server       *http.Server
	port         int
	status       atomic.Pointer[StatusFunc]
	shutdownOnce sync.Once
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: 9090
	Port int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
}

// NewServer creates a stopped server. Call SetStatus once the registries
// are open and Start to begin serving.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	s := &Server{port: config.Port}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "dittostore\n\n/metrics  upload protocol metrics\n/health   registry status\n")
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func metricsHandler() http.Handler {
	if registry := GetRegistry(); IsEnabled() && registry != nil {
		return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
	})
}

// SetStatus installs the source of registry counts for /health.
func (s *Server) SetStatus(fn StatusFunc) {
	if fn == nil {
		s.status.Store(nil)
		return
	}
	s.status.Store(&fn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{Status: "starting"}
	code := http.StatusServiceUnavailable

	if fn := s.status.Load(); fn != nil {
		report.Registries = (*fn)()
		if len(report.Registries) > 0 {
			report.Status = "ok"
			code = http.StatusOK
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.Debug("Health response write failed: %v", err)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on port %d", s.port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		// The cancelled ctx would abort the shutdown immediately
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}
