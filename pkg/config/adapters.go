package config

import (
	"fmt"

	"github.com/marmos91/dittostore/pkg/adapter"
	"github.com/marmos91/dittostore/pkg/adapter/transfer"
	"github.com/marmos91/dittostore/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete DittoStore configuration
//   - transferMetrics: Optional metrics sink for the transfer adapter (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: Enabled adapters ready to be added to the server
//   - error: If no adapter is enabled
func CreateAdapters(cfg *Config, transferMetrics metrics.TransferMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.Transfer.Enabled {
		adapters = append(adapters, transfer.New(cfg.Adapters.Transfer, transferMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
