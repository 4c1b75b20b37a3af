package metrics

import (
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics provides observability for engine operations.
//
// This interface is optional - if not provided to the engine, operations
// proceed without metrics collection (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	eng, err := engine.New(ctx, store, engine.Options{Metrics: reg.EngineMetrics()})
//
//	// Without metrics (no-op)
//	eng, err := engine.New(ctx, store, engine.Options{})
type EngineMetrics interface {
	// RecordOperation records a completed engine operation with its name,
	// duration, and outcome. Failures are labelled with the error kind
	// (not-found, would-block, ...).
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes read or written through handles.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytes(direction string, bytes int)

	// RecordReclaim records a node or stream reclaimed after its last close.
	RecordReclaim(kind string)
}

// engineMetrics is the Prometheus implementation of EngineMetrics.
type engineMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	reclaimsTotal     *prometheus.CounterVec
}

// NewEngineMetricsWith creates a Prometheus-backed EngineMetrics registered
// on reg.
func NewEngineMetricsWith(reg prometheus.Registerer) EngineMetrics {
	return &engineMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentfs_engine_operations_total",
				Help: "Total number of engine operations by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "agentfs_engine_operation_duration_seconds",
				Help: "Duration of engine operations in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.00005, // 50µs
					0.0001,  // 100µs
					0.0005,  // 500µs
					0.001,   // 1ms
					0.005,   // 5ms
					0.01,    // 10ms
					0.05,    // 50ms
					0.1,     // 100ms
				},
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentfs_engine_bytes_total",
				Help: "Total bytes transferred through handles by direction",
			},
			[]string{"direction"},
		),
		reclaimsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentfs_engine_reclaims_total",
				Help: "Total number of nodes and streams reclaimed on last close",
			},
			[]string{"kind"},
		),
	}
}

func (m *engineMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = string(metadata.KindOf(err))
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *engineMetrics) RecordBytes(direction string, bytes int) {
	m.bytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (m *engineMetrics) RecordReclaim(kind string) {
	m.reclaimsTotal.WithLabelValues(kind).Inc()
}

// NewNoopEngineMetrics returns an EngineMetrics that discards everything.
func NewNoopEngineMetrics() EngineMetrics {
	return noopEngineMetrics{}
}

// noopEngineMetrics is a no-op implementation of EngineMetrics with zero overhead.
type noopEngineMetrics struct{}

func (noopEngineMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
func (noopEngineMetrics) RecordBytes(direction string, bytes int)                             {}
func (noopEngineMetrics) RecordReclaim(kind string)                                           {}
