package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetricsWith(reg).(*engineMetrics)

	m.RecordOperation("Open", time.Millisecond, nil)
	m.RecordOperation("Open", time.Millisecond, metadata.NewError(metadata.ErrWouldBlock, "/a", "sharing violation"))
	m.RecordOperation("Lookup", time.Millisecond, metadata.NewError(metadata.ErrNotFound, "/b", "missing"))
	m.RecordBytes("write", 5)
	m.RecordBytes("write", 7)
	m.RecordReclaim("node")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("Open", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("Open", "would-block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("Lookup", "not-found")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reclaimsTotal.WithLabelValues("node")))
}

func TestNoopEngineMetrics(t *testing.T) {
	m := NewNoopEngineMetrics()
	m.RecordOperation("Open", time.Second, nil)
	m.RecordBytes("read", 1)
	m.RecordReclaim("stream")
}

func TestStatsCollector(t *testing.T) {
	calls := 0
	c := NewStatsCollector(func() Sample {
		calls++
		return Sample{Branches: 3, Snapshots: 2, OpenHandles: 1, BytesInMemory: 4096, BytesSpilled: 8192}
	})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP agentfs_branches Number of live branches
# TYPE agentfs_branches gauge
agentfs_branches 3
# HELP agentfs_content_bytes Content block bytes by tier
# TYPE agentfs_content_bytes gauge
agentfs_content_bytes{tier="memory"} 4096
agentfs_content_bytes{tier="spill"} 8192
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "agentfs_branches", "agentfs_content_bytes")
	require.NoError(t, err)
	assert.Equal(t, 9, testutil.CollectAndCount(c))
	assert.Positive(t, calls)
}

func TestServer(t *testing.T) {
	reg := NewRegistry()
	reg.EngineMetrics().RecordOperation("Open", time.Millisecond, nil)
	srv := NewServer(reg, ServerConfig{})
	assert.Equal(t, DefaultPort, srv.Port())

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusServiceUnavailable, get("/stats").Code)

	require.NoError(t, reg.AttachStats(func() Sample {
		return Sample{Branches: 2, Snapshots: 1, BytesInMemory: 4096}
	}))
	assert.ErrorIs(t, reg.AttachStats(func() Sample { return Sample{} }), ErrStatsAttached)

	rec := get("/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var sample Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.Equal(t, Sample{Branches: 2, Snapshots: 1, BytesInMemory: 4096}, sample)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "agentfs_branches 2")
	assert.Contains(t, body, `agentfs_engine_operations_total{operation="Open",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")

	assert.Equal(t, http.StatusNotFound, get("/").Code)
}

func TestRegistrySampleBeforeAttach(t *testing.T) {
	_, ok := NewRegistry().Sample()
	assert.False(t, ok)
}
