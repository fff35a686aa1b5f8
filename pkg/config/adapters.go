package config

import (
	"fmt"

	"github.com/marmos91/dittodrive/pkg/adapter"
	"github.com/marmos91/dittodrive/pkg/adapter/rest"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters.
//
// httpMetrics may be nil, in which case the adapters record nothing.
func CreateAdapters(cfg *Config, httpMetrics metrics.HTTPMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.REST.Enabled {
		adapters = append(adapters, rest.New(cfg.Adapters.REST, httpMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}
	return adapters, nil
}
