package config

import (
	"fmt"

	"github.com/marmos91/agentfs/pkg/engine"
	"github.com/marmos91/agentfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Registry holds the engine's metrics (nil if disabled)
	Registry *metrics.Registry

	// Server exposes Registry over HTTP (nil if disabled)
	Server *metrics.Server

	// EngineMetrics records engine operations (never nil, uses noop if disabled)
	EngineMetrics metrics.EngineMetrics
}

// InitializeMetrics creates the metrics components described by cfg.
//
// If metrics are enabled in the configuration:
//   - Creates a registry with the runtime collectors
//   - Creates the HTTP server for it (not started)
//   - Creates Prometheus-backed engine metrics
//
// If metrics are disabled:
//   - Returns nil registry and server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			EngineMetrics: metrics.NewNoopEngineMetrics(),
		}
	}

	reg := metrics.NewRegistry()
	return &MetricsResult{
		Registry:      reg,
		Server:        metrics.NewServer(reg, metrics.ServerConfig{Port: cfg.Metrics.Port}),
		EngineMetrics: reg.EngineMetrics(),
	}
}

// RegisterEngine attaches e's stats to the registry, exposing them as
// gauges and on /stats. It is a no-op when metrics are disabled.
func (r *MetricsResult) RegisterEngine(e *engine.Engine) error {
	if r.Registry == nil {
		return nil
	}
	if err := r.Registry.AttachStats(e.StatsSample); err != nil {
		return fmt.Errorf("failed to register engine stats: %w", err)
	}
	return nil
}
