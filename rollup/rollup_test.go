package rollup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"netmonitor/dbopen"
	"netmonitor/store"
)

func newTestRunner(t *testing.T, at time.Time, pol Policy) (*Runner, *store.Store, *clockwork.FakeClock) {
	t.Helper()
	st, err := store.OpenDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	clock := clockwork.NewFakeClockAt(at)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(st, clock, log, func() Policy { return pol }, nil)
	return r, st, clock
}

func seedApp(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	id, err := st.UpsertApplication(context.Background(), name, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func hourlyRow(t *testing.T, st *store.Store, hour, appID int64) (bytesOut, sampleCount int64, ok bool) {
	t.Helper()
	err := st.DB.QueryRow(`
		SELECT bytes_out, sample_count FROM hourly_aggregates
		WHERE hour_start = ? AND app_id = ?`, hour, appID).Scan(&bytesOut, &sampleCount)
	if err != nil {
		return 0, 0, false
	}
	return bytesOut, sampleCount, true
}

func TestHourRollupIdempotent(t *testing.T) {
	pol := Policy{RawTTLDays: 7, HourTTLDays: 90}
	r, st, _ := newTestRunner(t, time.Unix(3700, 0), pol)
	ctx := context.Background()

	appID := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 3599, AppID: appID, BytesOut: 10},
		{Ts: 3600, AppID: appID, BytesOut: 10},
	}, 3600); err != nil {
		t.Fatal(err)
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// ts=3599 falls in the first hour, ts=3600 opens the second.
	for _, hour := range []int64{0, 3600} {
		out, count, ok := hourlyRow(t, st, hour, appID)
		if !ok {
			t.Fatalf("no hourly row for hour %d", hour)
		}
		if out != 10 || count != 1 {
			t.Fatalf("hour %d = %d/%d, want 10/1", hour, out, count)
		}
	}

	entries, err := st.ListRetentionLog(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	first := len(entries)

	// A second pass over converged data changes nothing and logs nothing.
	if err := r.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	for _, hour := range []int64{0, 3600} {
		out, count, ok := hourlyRow(t, st, hour, appID)
		if !ok || out != 10 || count != 1 {
			t.Fatalf("hour %d changed on second pass: %d/%d ok=%v", hour, out, count, ok)
		}
	}
	entries, err = st.ListRetentionLog(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != first {
		t.Fatalf("second pass added log entries: %d -> %d", first, len(entries))
	}
	if first != 2 {
		t.Fatalf("log entries = %d, want 2 (one per aggregated tier)", first)
	}

	var hourlyRows int64
	if err := st.DB.QueryRow(`SELECT COUNT(*) FROM hourly_aggregates`).Scan(&hourlyRows); err != nil {
		t.Fatal(err)
	}
	if hourlyRows != 2 {
		t.Fatalf("hourly rows = %d, want 2", hourlyRows)
	}
}

func TestRetentionDefersUnaggregatedRaw(t *testing.T) {
	// Everything is stale immediately, but nothing has been aggregated yet.
	pol := Policy{RawTTLDays: 0, HourTTLDays: 90}
	r, st, _ := newTestRunner(t, time.Unix(3700, 0), pol)
	ctx := context.Background()

	appID := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 100, AppID: appID, BytesOut: 10},
		{Ts: 3650, AppID: appID, BytesOut: 20},
	}, 3650); err != nil {
		t.Fatal(err)
	}

	// Retention alone: no hour is covered, so nothing may be deleted.
	now := time.Unix(3700, 0).UTC().Unix()
	if err := r.prune(ctx, now, pol); err != nil {
		t.Fatal(err)
	}
	var n int64
	if err := st.DB.QueryRow(`SELECT COUNT(*) FROM network_samples`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("raw rows after blind retention = %d, want 2", n)
	}

	// Full pass: aggregate first, then prune. The finalized hour's row goes;
	// the current hour's row stays despite the zero TTL.
	if err := r.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	rows, err := st.DB.Query(`SELECT ts FROM network_samples`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var remaining []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			t.Fatal(err)
		}
		remaining = append(remaining, ts)
	}
	if len(remaining) != 1 || remaining[0] != 3650 {
		t.Fatalf("remaining raw = %v, want [3650]", remaining)
	}

	// Deleted bytes are still queryable from the hourly tier.
	out, count, ok := hourlyRow(t, st, 0, appID)
	if !ok || out != 10 || count != 1 {
		t.Fatalf("hourly(0) = %d/%d ok=%v, want 10/1", out, count, ok)
	}
}

func TestHourlyRetentionGatedOnDaily(t *testing.T) {
	// Hourly rows expire instantly, raw is kept forever.
	pol := Policy{RawTTLDays: 365, HourTTLDays: 0}
	now := time.Unix(2*86400+100, 0)
	r, st, _ := newTestRunner(t, now, pol)
	ctx := context.Background()

	appID := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 100, AppID: appID, BytesOut: 10},
		{Ts: 86400 + 100, AppID: appID, BytesOut: 20},
	}, 86400+100); err != nil {
		t.Fatal(err)
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// Both days were rolled up, so both hourly rows were eligible and gone.
	var hourlyLeft int64
	if err := st.DB.QueryRow(`SELECT COUNT(*) FROM hourly_aggregates`).Scan(&hourlyLeft); err != nil {
		t.Fatal(err)
	}
	if hourlyLeft != 0 {
		t.Fatalf("hourly rows left = %d, want 0", hourlyLeft)
	}

	var dailyOut int64
	if err := st.DB.QueryRow(
		`SELECT SUM(bytes_out) FROM daily_aggregates`).Scan(&dailyOut); err != nil {
		t.Fatal(err)
	}
	if dailyOut != 30 {
		t.Fatalf("daily bytes_out = %d, want 30", dailyOut)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	pol := Policy{RawTTLDays: 7, HourTTLDays: 90}
	r, _, clock := newTestRunner(t, time.Unix(1000, 0), pol)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Minute)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(5 * time.Minute)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
