package config

import (
	"github.com/marmos91/dittostore/pkg/metrics"
	promMetrics "github.com/marmos91/dittostore/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the operator HTTP server for /metrics and /health (nil if disabled)
	Server *metrics.Server

	// TransferMetrics records upload protocol activity (never nil, no-op if disabled)
	TransferMetrics metrics.TransferMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			TransferMetrics: metrics.NewNoopTransferMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:          server,
		TransferMetrics: promMetrics.NewTransferMetrics(),
	}
}
