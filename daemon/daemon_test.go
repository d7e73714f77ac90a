package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"netmonitor/config"
	"netmonitor/dbopen"
	"netmonitor/errkind"
	"netmonitor/httpapi"
	"netmonitor/sampler"
	"netmonitor/store"
)

type staticSource struct{ snap sampler.Snapshot }

func (s staticSource) Snapshot(context.Context) (sampler.Snapshot, error) { return s.snap, nil }

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	st, err := store.OpenDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	initial, err := config.LoadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	return New(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		config.NewManager(cfgPath, initial, nil),
		st,
		staticSource{snap: sampler.Snapshot{}},
		clockwork.NewFakeClockAt(time.Unix(1_000_000, 0)))
}

func TestHealthDegradesOnInvariantsOnly(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	st, err := d.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Degraded {
		t.Fatal("fresh daemon reports degraded")
	}

	// Transient failures never trip the flag, no matter how many accumulate
	// over the daemon's lifetime.
	for i := 0; i < degradedThreshold+2; i++ {
		d.recordFailure(fmt.Errorf("%w: nettop timed out", errkind.ErrTransient))
	}
	st, _ = d.Health(ctx)
	if st.Degraded {
		t.Fatalf("transient failures tripped degraded: %+v", st)
	}
	if st.TransientFailures != degradedThreshold+2 {
		t.Fatalf("transient failures = %d, want %d", st.TransientFailures, degradedThreshold+2)
	}

	for i := 0; i < degradedThreshold-1; i++ {
		d.recordFailure(fmt.Errorf("%w: hour 0 aggregate drift", errkind.ErrInvariant))
	}
	if st, _ = d.Health(ctx); st.Degraded {
		t.Fatalf("degraded below threshold: %+v", st)
	}

	d.recordFailure(fmt.Errorf("%w: hour 0 aggregate drift", errkind.ErrInvariant))
	st, _ = d.Health(ctx)
	if !st.Degraded || st.InvariantFailures != degradedThreshold {
		t.Fatalf("health = %+v, want degraded at %d invariant failures", st, degradedThreshold)
	}
}

func TestHeartbeatLoopWritesImmediately(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.heartbeatLoop(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		hb, err := d.store.LatestHeartbeat(context.Background(), "daemon")
		if err != nil {
			t.Fatal(err)
		}
		if hb != nil {
			if hb.Ts != 1_000_000 || hb.Goroutines <= 0 {
				t.Fatalf("heartbeat = %+v", hb)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no heartbeat written")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

func TestHealthReporterInterface(t *testing.T) {
	var _ httpapi.HealthReporter = newTestDaemon(t)
}
