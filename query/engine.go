// Package query answers read requests over the tiered measurement store.
// It picks the coarsest tier that still covers the requested window, shapes
// timelines into fixed bucket grids, and validates every dynamic input
// against closed enumerations before any SQL is built.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"netmonitor/errkind"
	"netmonitor/store"
)

// Retention reports the TTLs the engine needs for tier selection.
type Retention struct {
	RawTTLDays  int
	HourTTLDays int
}

// Engine serves all read operations.
type Engine struct {
	store     *store.Store
	clock     clockwork.Clock
	retention func() Retention
	sampling  func() int // sampling interval in seconds
}

// NewEngine returns an engine. retention and sampling are read per request so
// config reloads apply immediately.
func NewEngine(st *store.Store, clock clockwork.Clock, retention func() Retention, sampling func() int) *Engine {
	return &Engine{store: st, clock: clock, retention: retention, sampling: sampling}
}

// Period is a named timeline window.
type Period string

const (
	Period1h  Period = "1h"
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
)

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case Period1h, Period24h, Period7d, Period30d, Period90d:
		return Period(s), nil
	}
	return "", fmt.Errorf("%w: unknown period %q", errkind.ErrValidation, s)
}

func (p Period) duration() time.Duration {
	switch p {
	case Period1h:
		return time.Hour
	case Period24h:
		return 24 * time.Hour
	case Period7d:
		return 7 * 24 * time.Hour
	case Period30d:
		return 30 * 24 * time.Hour
	default:
		return 90 * 24 * time.Hour
	}
}

// maxBuckets caps timeline resolution per window length.
func maxBuckets(window time.Duration) int {
	switch {
	case window <= time.Hour:
		return 60
	case window <= 24*time.Hour:
		return 288
	case window <= 7*24*time.Hour:
		return 168
	default:
		return 720
	}
}

// tierFor picks the coarsest tier still covering a window of the given length
// ending now.
func (e *Engine) tierFor(window time.Duration) store.Tier {
	r := e.retention()
	switch {
	case window <= time.Duration(r.RawTTLDays)*24*time.Hour:
		return store.TierRaw
	case window <= time.Duration(r.HourTTLDays)*24*time.Hour:
		return store.TierHourly
	default:
		return store.TierDaily
	}
}

// ParseSort validates sortBy/order strings against the closed enums.
func ParseSort(sortBy, order string) (store.SortKey, store.SortOrder, error) {
	key := store.SortTotalBytes
	if sortBy != "" {
		switch k := store.SortKey(sortBy); k {
		case store.SortTotalBytes, store.SortBytesIn, store.SortBytesOut,
			store.SortLastSeen, store.SortFirstSeen:
			key = k
		default:
			return "", "", fmt.Errorf("%w: unknown sort key %q", errkind.ErrValidation, sortBy)
		}
	}
	dir := store.OrderDesc
	if order != "" {
		switch o := store.SortOrder(order); o {
		case store.OrderAsc, store.OrderDesc:
			dir = o
		default:
			return "", "", fmt.Errorf("%w: unknown sort order %q", errkind.ErrValidation, order)
		}
	}
	return key, dir, nil
}

// TimelineRequest describes one timeline query. Either Period or an explicit
// Since/Until pair must be set; Buckets of 0 means the period's cap.
type TimelineRequest struct {
	Period  Period
	Since   int64
	Until   int64
	Buckets int
	AppID   int64 // 0 = all applications
}

// Timeline returns a dense, evenly spaced point sequence for the request:
// exactly N points, empty buckets zero-filled, so clients never detect gaps
// themselves.
func (e *Engine) Timeline(ctx context.Context, req TimelineRequest) ([]store.TimelinePoint, error) {
	now := e.clock.Now().UTC().Unix()

	since, until := req.Since, req.Until
	if req.Period != "" {
		until = now
		since = now - int64(req.Period.duration()/time.Second)
	}
	if since >= until {
		return nil, fmt.Errorf("%w: empty window [%d, %d)", errkind.ErrValidation, since, until)
	}
	window := time.Duration(until-since) * time.Second

	n := maxBuckets(window)
	if req.Buckets > 0 && req.Buckets < n {
		n = req.Buckets
	}
	width := (until - since + int64(n) - 1) / int64(n) // ceil
	if width < 1 {
		width = 1
	}

	sparse, err := e.store.TimelineBuckets(ctx, e.tierFor(window), since, until, width, req.AppID)
	if err != nil {
		return nil, err
	}

	// A row at exactly until computes to bucket n when the window divides
	// evenly; fold it into the last bucket instead of dropping it.
	if edge, ok := sparse[int64(n)]; ok {
		last := sparse[int64(n-1)]
		last.BytesOut += edge.BytesOut
		last.BytesIn += edge.BytesIn
		sparse[int64(n-1)] = last
	}

	points := make([]store.TimelinePoint, 0, n)
	for i := 0; i < n; i++ {
		p := sparse[int64(i)]
		p.Ts = since + int64(i)*width
		points = append(points, p)
	}
	return points, nil
}

// Bandwidth is a current-rate observation.
type Bandwidth struct {
	BytesPerSecond    float64 `json:"bytes_per_second"`
	BytesInPerSecond  float64 `json:"bytes_in_per_second"`
	BytesOutPerSecond float64 `json:"bytes_out_per_second"`
	WindowSeconds     int64   `json:"window_seconds"`
}

// Bandwidth computes the current transfer rate from the latest two sampler
// ticks. A tick's deltas cover the span since the previous tick, so the rate
// is that tick's total divided by the span; folding more ticks in would
// average away the current rate.
func (e *Engine) Bandwidth(ctx context.Context) (Bandwidth, error) {
	now := e.clock.Now().UTC().Unix()
	window := int64(2 * e.sampling())

	ticks, err := e.store.RecentTickTotals(ctx, now-window)
	if err != nil {
		return Bandwidth{}, err
	}
	if len(ticks) < 2 {
		return Bandwidth{WindowSeconds: window}, nil
	}

	last, prev := ticks[len(ticks)-1], ticks[len(ticks)-2]
	span := last.Ts - prev.Ts
	if span <= 0 {
		return Bandwidth{WindowSeconds: window}, nil
	}
	return Bandwidth{
		BytesPerSecond:    float64(last.BytesOut+last.BytesIn) / float64(span),
		BytesInPerSecond:  float64(last.BytesIn) / float64(span),
		BytesOutPerSecond: float64(last.BytesOut) / float64(span),
		WindowSeconds:     window,
	}, nil
}

// Summary is the headline stats block.
type Summary struct {
	Today     store.Totals       `json:"today"`
	Week      store.Totals       `json:"week"`
	Month     store.Totals       `json:"month"`
	TopApp    *store.AppUsage    `json:"top_app"`
	TopDomain *store.DomainUsage `json:"top_domain"`
	Since     int64              `json:"monitoring_since"`
}

// Summary computes today/week/month totals and the anchor day's top app and
// domain in a single read snapshot. until anchors the day (0 means now) and
// since clips every window's lower bound, so callers can summarize a
// historical range. Closed days come from the daily tier; the anchor day
// always comes from raw, which retention never touches inside the current
// day.
func (e *Engine) Summary(ctx context.Context, since, until int64) (Summary, error) {
	now := e.clock.Now().UTC().Unix()
	if until <= 0 || until > now {
		until = now
	}
	if since != 0 && (since < 0 || since >= until) {
		return Summary{}, fmt.Errorf("%w: empty summary window [%d, %d)",
			errkind.ErrValidation, since, until)
	}

	dayStart := (until / 86400) * 86400
	weekStart := dayStart - 6*86400
	monthStart := dayStart - 29*86400
	clip := func(bound int64) int64 {
		if since > bound {
			return since
		}
		return bound
	}

	var sum Summary
	err := e.store.ReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if sum.Today, err = e.store.SumTier(ctx, tx, store.TierRaw, clip(dayStart), until); err != nil {
			return err
		}

		// Closed days of the rolling week and month, read from the daily
		// tier, plus the anchor day's raw total.
		week, err := e.store.SumTier(ctx, tx, store.TierDaily, clip(weekStart-1), dayStart-1)
		if err != nil {
			return err
		}
		sum.Week = store.Totals{
			BytesOut: week.BytesOut + sum.Today.BytesOut,
			BytesIn:  week.BytesIn + sum.Today.BytesIn,
		}

		month, err := e.store.SumTier(ctx, tx, store.TierDaily, clip(monthStart-1), dayStart-1)
		if err != nil {
			return err
		}
		sum.Month = store.Totals{
			BytesOut: month.BytesOut + sum.Today.BytesOut,
			BytesIn:  month.BytesIn + sum.Today.BytesIn,
		}

		if sum.TopApp, err = e.store.TopAppToday(ctx, tx, clip(dayStart), until); err != nil {
			return err
		}
		if sum.TopDomain, err = e.store.TopDomainToday(ctx, tx, clip(dayStart), until); err != nil {
			return err
		}

		first, err := e.store.FirstSampleTs(ctx, tx)
		if err != nil {
			return err
		}
		sum.Since = first
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// TopApps returns the N applications with the highest byte totals over the
// period, read from the tier matching the window.
func (e *Engine) TopApps(ctx context.Context, period Period, limit int) ([]store.AppUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	now := e.clock.Now().UTC().Unix()
	w := period.duration()
	return e.store.TopApps(ctx, e.tierFor(w), now-int64(w/time.Second), now, limit)
}

// TopDomains returns the N most-visited domains over the period.
func (e *Engine) TopDomains(ctx context.Context, period Period, limit int, parentOnly bool) ([]store.DomainUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	now := e.clock.Now().UTC().Unix()
	w := period.duration()
	return e.store.TopDomains(ctx, e.tierFor(w), now-int64(w/time.Second), now, limit, parentOnly)
}
