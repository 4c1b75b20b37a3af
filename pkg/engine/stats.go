package engine

import (
	"context"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/tree"
)

// Stats is a point-in-time view of the engine's counters.
type Stats struct {
	Branches       int
	Snapshots      int
	OpenHandles    int
	BoundProcesses int
	Subscriptions  int

	// Nodes counts nodes across every branch and snapshot tree, orphans
	// included. Nodes shared by clones are counted once per tree.
	Nodes int

	BytesInMemory  uint64
	BytesSpilled   uint64
	BytesUsed      uint64
	ContentObjects uint64
}

// Stats collects the engine's counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	var s Stats

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return Stats{}, errClosed
	}
	trees := make([]*tree.Tree, 0, len(e.branches)+len(e.snapshots))
	for _, b := range e.branches {
		trees = append(trees, b.tree)
	}
	for _, sn := range e.snapshots {
		trees = append(trees, sn.tree)
	}
	s.Branches = len(e.branches)
	s.Snapshots = len(e.snapshots)
	s.BoundProcesses = len(e.bindings)
	s.Subscriptions = len(e.subs)
	e.mu.RUnlock()

	for _, t := range trees {
		t.RLock()
		s.Nodes += t.Len()
		t.RUnlock()
	}
	s.OpenHandles = e.handles.Len()

	st, err := e.store.GetStorageStats(ctx)
	if err != nil {
		return Stats{}, contentError("", err)
	}
	s.BytesInMemory = st.BytesInMemory
	s.BytesSpilled = st.BytesSpilled
	s.BytesUsed = st.UsedSize
	s.ContentObjects = st.ContentCount
	return s, nil
}

// StatsSample reads Stats for metrics exposition. Failures are logged and
// reported as a zero sample.
func (e *Engine) StatsSample() metrics.Sample {
	s, err := e.Stats(context.Background())
	if err != nil {
		logger.Warn("Stats collection failed: %v", err)
		return metrics.Sample{}
	}
	return metrics.Sample{
		Branches:       s.Branches,
		Snapshots:      s.Snapshots,
		OpenHandles:    s.OpenHandles,
		BoundProcesses: s.BoundProcesses,
		Subscriptions:  s.Subscriptions,
		Nodes:          s.Nodes,
		BytesInMemory:  s.BytesInMemory,
		BytesSpilled:   s.BytesSpilled,
		ContentObjects: s.ContentObjects,
	}
}

// Collector exposes Stats as prometheus gauges.
func (e *Engine) Collector() *metrics.StatsCollector {
	return metrics.NewStatsCollector(e.StatsSample)
}

// CachePolicy returns the cache policy adapters should apply.
func (e *Engine) CachePolicy() CachePolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache
}

// SetCachePolicy validates and replaces the cache policy.
func (e *Engine) SetCachePolicy(p CachePolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.cache = p
	e.mu.Unlock()

	logger.Info("Cache policy updated (attr=%s, entry=%s, negative=%s)", p.AttrTTL, p.EntryTTL, p.NegativeTTL)
	return nil
}
