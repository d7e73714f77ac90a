// Package daemon supervises the monitor's long-lived tasks: the sampler, the
// rollup pass, the heartbeat writer, and the HTTP server. It is the only
// process-wide handle; the HTTP layer holds a reference to it rather than any
// global state.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"netmonitor/catalog"
	"netmonitor/config"
	"netmonitor/errkind"
	"netmonitor/httpapi"
	"netmonitor/ingest"
	"netmonitor/query"
	"netmonitor/rollup"
	"netmonitor/sampler"
	"netmonitor/store"
)

const (
	rollupInterval    = 5 * time.Minute
	heartbeatInterval = 30 * time.Second
	shutdownGrace     = 5 * time.Second

	// degradedThreshold trips the health flag after this many invariant
	// violations. Transient errors retry on their own tick and never count.
	degradedThreshold = 3
)

// Daemon wires every component and owns their lifecycles.
type Daemon struct {
	log   *slog.Logger
	cfg   *config.Manager
	clock clockwork.Clock

	store   *store.Store
	engine  *sampler.Engine
	rollup  *rollup.Runner
	server  *httpapi.Server
	queries *query.Engine

	running           atomic.Bool
	transientFailures atomic.Int64
	invariantFailures atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a daemon over an open store. source is the platform counter
// source; tests substitute a fake.
func New(log *slog.Logger, cfg *config.Manager, st *store.Store, source sampler.Source, clock clockwork.Clock) *Daemon {
	d := &Daemon{log: log, cfg: cfg, clock: clock, store: st}

	apps := catalog.NewAppCatalog(st)
	domains := catalog.NewDomainCatalog(st)
	onError := d.recordFailure

	d.engine = sampler.NewEngine(source, apps, st, clock, log, onError)
	d.rollup = rollup.NewRunner(st, clock, log, func() rollup.Policy {
		c := cfg.Current()
		return rollup.Policy{RawTTLDays: c.RawTTLDays, HourTTLDays: c.HourTTLDays}
	}, onError)
	d.queries = query.NewEngine(st, clock, func() query.Retention {
		c := cfg.Current()
		return query.Retention{RawTTLDays: c.RawTTLDays, HourTTLDays: c.HourTTLDays}
	}, func() int { return cfg.Current().SamplingIntervalSeconds })

	recorder := ingest.NewRecorder(apps, domains, st, clock, log)
	d.server = httpapi.NewServer(log, st, d.queries, recorder, cfg, d)
	return d
}

// Start launches the background tasks and binds the HTTP listener. A port
// conflict fails startup; everything else keeps retrying on its own ticker.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	if err := d.server.Start(d.cfg.Current().ServerPort); err != nil {
		d.cancel()
		return err
	}

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.engine.Run(ctx, func() time.Duration {
			return time.Duration(d.cfg.Current().SamplingIntervalSeconds) * time.Second
		})
	}()
	go func() {
		defer d.wg.Done()
		d.rollup.Run(ctx, rollupInterval)
	}()
	go func() {
		defer d.wg.Done()
		d.heartbeatLoop(ctx)
	}()

	d.running.Store(true)
	d.log.Info("daemon: started", "pid", os.Getpid())
	return nil
}

// Stop cancels the tasks, waits for them with a bounded grace period, drains
// the HTTP server, and closes the store. Committed work is durable even when
// the grace period expires.
func (d *Daemon) Stop() error {
	d.running.Store(false)
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.log.Warn("daemon: tasks did not stop within grace period")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.server.Shutdown(shCtx); err != nil {
		d.log.Warn("daemon: http shutdown", "error", err)
	}

	err := d.store.Close()
	d.log.Info("daemon: stopped")
	return err
}

// heartbeatLoop periodically records process liveness for /health.
func (d *Daemon) heartbeatLoop(ctx context.Context) {
	pid := os.Getpid()
	write := func() {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		hb := store.Heartbeat{
			WorkerName: "daemon",
			PID:        pid,
			Ts:         d.clock.Now().UTC().Unix(),
			Goroutines: runtime.NumGoroutine(),
			MemAllocMB: float64(mem.Alloc) / (1 << 20),
		}
		if err := d.store.WriteHeartbeat(ctx, hb); err != nil {
			d.log.Warn("daemon: heartbeat write", "error", err)
		}
	}

	write()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(heartbeatInterval):
			write()
		}
	}
}

// recordFailure classifies one failed task run for /health. Only invariant
// violations count toward the degraded flag; a transient error means the next
// tick retries.
func (d *Daemon) recordFailure(err error) {
	if errors.Is(err, errkind.ErrInvariant) {
		d.invariantFailures.Add(1)
		return
	}
	d.transientFailures.Add(1)
}

// Health implements httpapi.HealthReporter.
func (d *Daemon) Health(ctx context.Context) (httpapi.Status, error) {
	st := httpapi.Status{
		Running:           d.running.Load(),
		TransientFailures: d.transientFailures.Load(),
		InvariantFailures: d.invariantFailures.Load(),
		SchemaVersion:     store.SchemaVersion,
	}
	st.Degraded = st.InvariantFailures >= degradedThreshold

	if hb, err := d.store.LatestHeartbeat(ctx, "daemon"); err == nil && hb != nil {
		st.Workers = append(st.Workers, *hb)
	}
	return st, nil
}
