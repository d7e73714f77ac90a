package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"netmonitor/dbopen"
	"netmonitor/errkind"
	"netmonitor/store"
)

func newTestEngine(t *testing.T, at time.Time) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.OpenDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(st, clockwork.NewFakeClockAt(at),
		func() Retention { return Retention{RawTTLDays: 7, HourTTLDays: 90} },
		func() int { return 1 })
	return e, st
}

func seedApp(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	id, err := st.UpsertApplication(context.Background(), name, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBandwidthUsesLatestTwoTicks(t *testing.T) {
	now := time.Unix(1000, 0)
	e, st := newTestEngine(t, now)
	ctx := context.Background()

	a := seedApp(t, st, "A")
	b := seedApp(t, st, "B")
	// Three consecutive 1s ticks with totals 100, 200, 300 bytes out. The
	// rate must come from the last tick alone: 300/1, never (100+200+300)/3.
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 998, AppID: a, BytesOut: 60},
		{Ts: 998, AppID: b, BytesOut: 40},
		{Ts: 999, AppID: a, BytesOut: 200},
		{Ts: 1000, AppID: a, BytesOut: 250},
		{Ts: 1000, AppID: b, BytesOut: 50},
	}, 1000); err != nil {
		t.Fatal(err)
	}

	bw, err := e.Bandwidth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bw.BytesPerSecond != 300 {
		t.Fatalf("rate = %v, want 300", bw.BytesPerSecond)
	}
	if bw.WindowSeconds != 2 {
		t.Fatalf("window = %d, want 2", bw.WindowSeconds)
	}
}

func TestBandwidthSingleTickIsZero(t *testing.T) {
	e, st := newTestEngine(t, time.Unix(1000, 0))
	ctx := context.Background()

	a := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 1000, AppID: a, BytesOut: 500},
	}, 1000); err != nil {
		t.Fatal(err)
	}

	bw, err := e.Bandwidth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bw.BytesPerSecond != 0 {
		t.Fatalf("rate with one tick = %v, want 0", bw.BytesPerSecond)
	}
}

func TestTimelineEmptyIsDenseZeros(t *testing.T) {
	e, _ := newTestEngine(t, time.Unix(1_000_000, 0))

	points, err := e.Timeline(context.Background(), TimelineRequest{Period: Period24h})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 288 {
		t.Fatalf("points = %d, want 288", len(points))
	}
	width := points[1].Ts - points[0].Ts
	for i, p := range points {
		if p.BytesOut != 0 || p.BytesIn != 0 {
			t.Fatalf("point %d not zero: %+v", i, p)
		}
		if i > 0 && p.Ts-points[i-1].Ts != width {
			t.Fatalf("uneven spacing at %d", i)
		}
	}
}

func TestTimelineBucketsSums(t *testing.T) {
	now := time.Unix(3600, 0)
	e, st := newTestEngine(t, now)
	ctx := context.Background()

	a := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 30, AppID: a, BytesOut: 100},
		{Ts: 50, AppID: a, BytesOut: 50},
		{Ts: 3500, AppID: a, BytesOut: 7},
	}, 3500); err != nil {
		t.Fatal(err)
	}

	points, err := e.Timeline(ctx, TimelineRequest{Period: Period1h})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 60 {
		t.Fatalf("points = %d, want 60", len(points))
	}
	var total int64
	for _, p := range points {
		total += p.BytesOut
	}
	if total != 157 {
		t.Fatalf("total = %d, want 157", total)
	}
	// Samples at 30 and 50 share the first minute bucket.
	if points[0].BytesOut != 150 {
		t.Fatalf("bucket 0 = %d, want 150", points[0].BytesOut)
	}
}

func TestTimelineCustomBucketCount(t *testing.T) {
	e, _ := newTestEngine(t, time.Unix(1_000_000, 0))

	points, err := e.Timeline(context.Background(), TimelineRequest{Period: Period24h, Buckets: 24})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 24 {
		t.Fatalf("points = %d, want 24", len(points))
	}
}

func TestTimelineRejectsEmptyWindow(t *testing.T) {
	e, _ := newTestEngine(t, time.Unix(1000, 0))
	_, err := e.Timeline(context.Background(), TimelineRequest{Since: 500, Until: 500})
	if !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestTierSelection(t *testing.T) {
	e, _ := newTestEngine(t, time.Unix(0, 0))
	cases := []struct {
		window time.Duration
		want   store.Tier
	}{
		{time.Hour, store.TierRaw},
		{24 * time.Hour, store.TierRaw},
		{7 * 24 * time.Hour, store.TierRaw},
		{8 * 24 * time.Hour, store.TierHourly},
		{90 * 24 * time.Hour, store.TierHourly},
		{91 * 24 * time.Hour, store.TierDaily},
	}
	for _, c := range cases {
		if got := e.tierFor(c.window); got != c.want {
			t.Errorf("tierFor(%v) = %v, want %v", c.window, got, c.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	for _, ok := range []string{"1h", "24h", "7d", "30d", "90d"} {
		if _, err := ParsePeriod(ok); err != nil {
			t.Errorf("ParsePeriod(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "2h", "1w", "24H", "forever"} {
		if _, err := ParsePeriod(bad); !errors.Is(err, errkind.ErrValidation) {
			t.Errorf("ParsePeriod(%q) err = %v, want ErrValidation", bad, err)
		}
	}
}

func TestParseSort(t *testing.T) {
	key, dir, err := ParseSort("", "")
	if err != nil || key != store.SortTotalBytes || dir != store.OrderDesc {
		t.Fatalf("defaults = %v/%v/%v", key, dir, err)
	}

	key, dir, err = ParseSort("lastSeen", "asc")
	if err != nil || key != store.SortLastSeen || dir != store.OrderAsc {
		t.Fatalf("parsed = %v/%v/%v", key, dir, err)
	}

	if _, _, err := ParseSort("total_bytes; DROP TABLE applications", ""); !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("injection attempt err = %v, want ErrValidation", err)
	}
	if _, _, err := ParseSort("", "sideways"); !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("bad order err = %v, want ErrValidation", err)
	}
}

func TestSummaryCombinesTiers(t *testing.T) {
	// Day 10 of the epoch, one hour in.
	now := time.Unix(10*86400+3600, 0)
	e, st := newTestEngine(t, now)
	ctx := context.Background()

	a := seedApp(t, st, "A")

	// Yesterday, rolled into the daily tier. The week total must read it
	// from there, not re-count the surviving raw rows.
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 9*86400 + 100, AppID: a, BytesOut: 1000, BytesIn: 100},
	}, 9*86400+100); err != nil {
		t.Fatal(err)
	}
	if err := st.AggregateHour(ctx, 9*86400); err != nil {
		t.Fatal(err)
	}
	if err := st.AggregateDay(ctx, 9*86400); err != nil {
		t.Fatal(err)
	}

	// Today, raw only.
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 10*86400 + 500, AppID: a, BytesOut: 30, BytesIn: 3},
	}, 10*86400+500); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Summary(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Today.BytesOut != 30 || sum.Today.BytesIn != 3 {
		t.Fatalf("today = %+v", sum.Today)
	}
	if sum.Week.BytesOut != 1030 || sum.Week.BytesIn != 103 {
		t.Fatalf("week = %+v", sum.Week)
	}
	if sum.Month.BytesOut != 1030 {
		t.Fatalf("month = %+v", sum.Month)
	}
	if sum.TopApp == nil || sum.TopApp.ProcessName != "A" || sum.TopApp.TotalBytes != 33 {
		t.Fatalf("top app = %+v", sum.TopApp)
	}
	if sum.TopDomain != nil {
		t.Fatalf("top domain = %+v, want nil without browser data", sum.TopDomain)
	}
	if sum.Since != 9*86400+100 {
		t.Fatalf("monitoring since = %d", sum.Since)
	}
}

func TestSummaryHonorsWindow(t *testing.T) {
	now := time.Unix(10*86400+3600, 0)
	e, st := newTestEngine(t, now)
	ctx := context.Background()

	a := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 9*86400 + 100, AppID: a, BytesOut: 1000, BytesIn: 100},
	}, 9*86400+100); err != nil {
		t.Fatal(err)
	}
	if err := st.AggregateHour(ctx, 9*86400); err != nil {
		t.Fatal(err)
	}
	if err := st.AggregateDay(ctx, 9*86400); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 10*86400 + 500, AppID: a, BytesOut: 30, BytesIn: 3},
	}, 10*86400+500); err != nil {
		t.Fatal(err)
	}

	// since clips the week and month below the aggregated day.
	sum, err := e.Summary(ctx, 10*86400, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Week.BytesOut != 30 || sum.Month.BytesOut != 30 {
		t.Fatalf("clipped week/month = %+v/%+v, want 30 each", sum.Week, sum.Month)
	}

	// until anchors the day: yesterday's raw becomes "today".
	sum, err = e.Summary(ctx, 0, 9*86400+200)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Today.BytesOut != 1000 || sum.Today.BytesIn != 100 {
		t.Fatalf("anchored today = %+v", sum.Today)
	}

	if _, err := e.Summary(ctx, 500, 400); !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("empty window err = %v, want ErrValidation", err)
	}
}

func TestTimelineKeepsEdgeSample(t *testing.T) {
	e, st := newTestEngine(t, time.Unix(3600, 0))
	ctx := context.Background()

	a := seedApp(t, st, "A")
	if err := st.InsertSamples(ctx, []store.Sample{
		{Ts: 3600, AppID: a, BytesOut: 9},
	}, 3600); err != nil {
		t.Fatal(err)
	}

	// The window divides evenly into the 60 buckets, so a sample at exactly
	// until computes past the last index and must fold into it.
	points, err := e.Timeline(ctx, TimelineRequest{Since: 0, Until: 3600})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 60 {
		t.Fatalf("points = %d, want 60", len(points))
	}
	if points[59].BytesOut != 9 {
		t.Fatalf("edge sample dropped: last bucket = %+v", points[59])
	}
}
