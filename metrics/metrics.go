// Package metrics exposes the filesystem's live counters and gauges through
// prometheus/client_golang, re-homing what the original implementation
// published through a FIDL inspect tree (out of scope here, see
// SPEC_FULL.md §4.10) onto a standard /metrics-style registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the core subsystems update. A single
// instance is constructed per mount and threaded into checkpoint, segment
// and pagecache the way the teacher's common.MetricHandle is threaded into
// the read path.
type Metrics struct {
	Registry *prometheus.Registry

	OutOfSpaceEvents   prometheus.Counter
	CheckpointsTotal   prometheus.Counter
	GCRunsTotal         prometheus.Counter
	GCSegmentsReclaimed prometheus.Counter
	OrphanInodesFreed   prometheus.Counter

	DirtyNodes       prometheus.Gauge
	DirtyData        prometheus.Gauge
	DirtyDents       prometheus.Gauge
	DirtyMeta        prometheus.Gauge
	FreeSegments     prometheus.Gauge
	ValidBlockCount  prometheus.Gauge
	CheckpointVersion prometheus.Gauge
}

// New constructs a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OutOfSpaceEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f2fs_out_of_space_events_total",
			Help: "Number of NoSpace errors returned to callers, debounced per allocation attempt.",
		}),
		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f2fs_checkpoints_total",
			Help: "Number of completed write_checkpoint calls.",
		}),
		GCRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f2fs_gc_runs_total",
			Help: "Number of foreground garbage-collection passes.",
		}),
		GCSegmentsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f2fs_gc_segments_reclaimed_total",
			Help: "Number of segments fully reclaimed by garbage collection.",
		}),
		OrphanInodesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f2fs_orphan_inodes_freed_total",
			Help: "Number of orphan inodes freed during recovery.",
		}),
		DirtyNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_dirty_nodes",
			Help: "Current count of dirty node pages.",
		}),
		DirtyData: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_dirty_data",
			Help: "Current count of dirty data pages.",
		}),
		DirtyDents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_dirty_dents",
			Help: "Current count of dirty dentry pages.",
		}),
		DirtyMeta: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_dirty_meta",
			Help: "Current count of dirty meta pages.",
		}),
		FreeSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_free_segments",
			Help: "Current count of free main-area segments.",
		}),
		ValidBlockCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_valid_block_count",
			Help: "Current total valid block count across all SIT entries.",
		}),
		CheckpointVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "f2fs_checkpoint_version",
			Help: "Version of the last durably committed checkpoint.",
		}),
	}

	reg.MustRegister(
		m.OutOfSpaceEvents, m.CheckpointsTotal, m.GCRunsTotal, m.GCSegmentsReclaimed, m.OrphanInodesFreed,
		m.DirtyNodes, m.DirtyData, m.DirtyDents, m.DirtyMeta, m.FreeSegments, m.ValidBlockCount, m.CheckpointVersion,
	)

	return m
}
