package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"netmonitor/catalog"
	"netmonitor/store"
)

// Engine bridges cumulative snapshots to stored deltas. It is the only code
// that subtracts counters; everything downstream sees non-negative deltas.
type Engine struct {
	source  Source
	apps    *catalog.AppCatalog
	store   *store.Store
	clock   clockwork.Clock
	log     *slog.Logger
	prev    Snapshot
	onError func(error)
}

// NewEngine returns an engine with an empty baseline. onError may be nil; when
// set it receives each failed tick's error so the supervisor can classify it.
func NewEngine(source Source, apps *catalog.AppCatalog, st *store.Store, clock clockwork.Clock, log *slog.Logger, onError func(error)) *Engine {
	return &Engine{
		source:  source,
		apps:    apps,
		store:   st,
		clock:   clock,
		log:     log,
		prev:    make(Snapshot),
		onError: onError,
	}
}

// Tick takes one snapshot and writes the resulting delta rows. A failed
// snapshot means no data for this tick: the baseline is kept, nothing is
// written, and the next tick resumes from the old prev.
func (e *Engine) Tick(ctx context.Context) error {
	ts := e.clock.Now().UTC().Unix()

	cur, err := e.source.Snapshot(ctx)
	if err != nil {
		e.log.Warn("sampler: snapshot failed", "error", err)
		e.fail(err)
		return err
	}

	batch := make([]store.Sample, 0, len(cur))
	for id, c := range cur {
		p, seen := e.prev[id]
		if !seen {
			// First sighting: no baseline yet. Intern the identity so it
			// exists before its first delta row next tick.
			if _, err := e.apps.Intern(ctx, id.ProcessName, id.BundleID, ts); err != nil {
				e.log.Warn("sampler: intern failed", "process", id.ProcessName, "error", err)
			}
			continue
		}

		appID, err := e.apps.Intern(ctx, id.ProcessName, id.BundleID, ts)
		if err != nil {
			e.log.Warn("sampler: intern failed", "process", id.ProcessName, "error", err)
			continue
		}
		d := diff(c, p)
		batch = append(batch, store.Sample{
			Ts:                ts,
			AppID:             appID,
			BytesOut:          d.BytesOut,
			BytesIn:           d.BytesIn,
			PacketsOut:        d.PacketsOut,
			PacketsIn:         d.PacketsIn,
			ActiveConnections: c.ActiveConnections,
		})
	}

	// Identities absent from cur drop out of prev here: replacing the map
	// forgets exited processes without emitting a negative correction.
	e.prev = cur

	if err := e.store.InsertSamples(ctx, batch, ts); err != nil {
		e.log.Error("sampler: insert failed", "rows", len(batch), "error", err)
		e.fail(err)
		return err
	}
	if len(batch) > 0 {
		e.log.Debug("sampler: tick stored", "ts", ts, "rows", len(batch))
	}
	return nil
}

// diff computes the per-field delta, clamping negatives to 0. A counter that
// went backwards reset with its process; storing the cumulative value instead
// would inflate totals by orders of magnitude.
func diff(cur, prev Cumulative) Delta {
	return Delta{
		BytesOut:   clamp(cur.BytesOut - prev.BytesOut),
		BytesIn:    clamp(cur.BytesIn - prev.BytesIn),
		PacketsOut: clamp(cur.PacketsOut - prev.PacketsOut),
		PacketsIn:  clamp(cur.PacketsIn - prev.PacketsIn),
	}
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func (e *Engine) fail(err error) {
	if e.onError != nil {
		e.onError(err)
	}
}

// Run ticks the engine until ctx is canceled. interval is read before every
// wait so config changes apply on the next tick. Ticks never overlap: a tick
// that overruns delays the next one instead of racing it. Errors are logged
// inside Tick; the loop itself only stops on cancellation.
func (e *Engine) Run(ctx context.Context, interval func() time.Duration) {
	e.log.Info("sampler: started", "interval", interval().String())
	for {
		select {
		case <-ctx.Done():
			e.log.Info("sampler: stopped")
			return
		case <-e.clock.After(interval()):
			_ = e.Tick(ctx)
		}
	}
}
