// Package metrics exposes an agentfs engine to Prometheus: per-operation
// counters and latencies recorded by the engine, live gauges sampled from
// its stats on every scrape, and an HTTP server that serves both.
//
// Metrics are optional. An engine created without EngineMetrics records
// nothing, and a nil *Registry is never dereferenced by the config layer.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ErrStatsAttached is returned when a second engine is attached to a Registry.
var ErrStatsAttached = errors.New("metrics: engine stats already attached")

// Registry is the Prometheus registry of one engine. It carries the Go
// runtime and process collectors, the engine's operation metrics and,
// once attached, the engine's stats sampler.
type Registry struct {
	prom *prometheus.Registry

	mu     sync.RWMutex
	sample func() Sample
}

// NewRegistry creates a registry with the runtime collectors registered.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{prom: prom}
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// EngineMetrics creates operation metrics registered on r.
func (r *Registry) EngineMetrics() EngineMetrics {
	return NewEngineMetricsWith(r.prom)
}

// AttachStats registers the gauges of an engine whose counters are read by
// sample, and makes sample available to Sample. Only one engine can be
// attached.
func (r *Registry) AttachStats(sample func() Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sample != nil {
		return ErrStatsAttached
	}
	if err := r.prom.Register(NewStatsCollector(sample)); err != nil {
		return err
	}
	r.sample = sample
	return nil
}

// Sample reads the attached engine's counters. ok is false until an engine
// is attached.
func (r *Registry) Sample() (s Sample, ok bool) {
	r.mu.RLock()
	sample := r.sample
	r.mu.RUnlock()

	if sample == nil {
		return Sample{}, false
	}
	return sample(), true
}
