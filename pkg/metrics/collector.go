package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sample is a point-in-time reading of the engine's live counters.
type Sample struct {
	Branches       int    `json:"branches"`
	Snapshots      int    `json:"snapshots"`
	OpenHandles    int    `json:"open_handles"`
	BoundProcesses int    `json:"bound_processes"`
	Subscriptions  int    `json:"subscriptions"`
	Nodes          int    `json:"nodes"`
	BytesInMemory  uint64 `json:"bytes_in_memory"`
	BytesSpilled   uint64 `json:"bytes_spilled"`
	ContentObjects uint64 `json:"content_objects"`
}

// StatsCollector exposes engine stats as gauges, read on every scrape.
type StatsCollector struct {
	sample func() Sample

	branches       *prometheus.Desc
	snapshots      *prometheus.Desc
	openHandles    *prometheus.Desc
	boundProcesses *prometheus.Desc
	subscriptions  *prometheus.Desc
	nodes          *prometheus.Desc
	bytes          *prometheus.Desc
	contentObjects *prometheus.Desc
}

// NewStatsCollector returns a collector that calls sample on every scrape.
func NewStatsCollector(sample func() Sample) *StatsCollector {
	return &StatsCollector{
		sample:         sample,
		branches:       prometheus.NewDesc("agentfs_branches", "Number of live branches", nil, nil),
		snapshots:      prometheus.NewDesc("agentfs_snapshots", "Number of live snapshots", nil, nil),
		openHandles:    prometheus.NewDesc("agentfs_open_handles", "Number of open handles", nil, nil),
		boundProcesses: prometheus.NewDesc("agentfs_bound_processes", "Number of processes bound to a branch or snapshot", nil, nil),
		subscriptions:  prometheus.NewDesc("agentfs_event_subscriptions", "Number of event subscriptions", nil, nil),
		nodes:          prometheus.NewDesc("agentfs_nodes", "Number of nodes across all trees", nil, nil),
		bytes:          prometheus.NewDesc("agentfs_content_bytes", "Content block bytes by tier", []string{"tier"}, nil),
		contentObjects: prometheus.NewDesc("agentfs_content_objects", "Number of live content objects", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.branches
	ch <- c.snapshots
	ch <- c.openHandles
	ch <- c.boundProcesses
	ch <- c.subscriptions
	ch <- c.nodes
	ch <- c.bytes
	ch <- c.contentObjects
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.sample()
	ch <- prometheus.MustNewConstMetric(c.branches, prometheus.GaugeValue, float64(s.Branches))
	ch <- prometheus.MustNewConstMetric(c.snapshots, prometheus.GaugeValue, float64(s.Snapshots))
	ch <- prometheus.MustNewConstMetric(c.openHandles, prometheus.GaugeValue, float64(s.OpenHandles))
	ch <- prometheus.MustNewConstMetric(c.boundProcesses, prometheus.GaugeValue, float64(s.BoundProcesses))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(s.Subscriptions))
	ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(s.Nodes))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.BytesInMemory), "memory")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.BytesSpilled), "spill")
	ch <- prometheus.MustNewConstMetric(c.contentObjects, prometheus.GaugeValue, float64(s.ContentObjects))
}
