// Package sampler turns periodic cumulative per-process counters into stored
// per-interval deltas.
package sampler

import "context"

// Identity names a process as the sampler sees it.
type Identity struct {
	ProcessName string
	BundleID    string
}

// Cumulative is a monotonically growing counter snapshot for one process.
// Counters reset when the process restarts.
type Cumulative struct {
	BytesOut          int64
	BytesIn           int64
	PacketsOut        int64
	PacketsIn         int64
	ActiveConnections int64
}

// Delta is the per-interval difference between two cumulative snapshots.
type Delta struct {
	BytesOut          int64
	BytesIn           int64
	PacketsOut        int64
	PacketsIn         int64
	ActiveConnections int64
}

// Snapshot is one observation of every process with network activity.
type Snapshot map[Identity]Cumulative

// Source produces cumulative counter snapshots. Implementations shell out to
// a platform tool; the engine never cares which.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}
