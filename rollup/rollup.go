// Package rollup folds raw samples into hourly and daily tiers and enforces
// retention. Aggregation and pruning run inside one pass, aggregate first:
// retention never touches a row whose bucket is not yet covered upstream.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"netmonitor/store"
)

// Policy holds the retention knobs for one pass.
type Policy struct {
	RawTTLDays  int
	HourTTLDays int
}

// Runner owns the periodic aggregate-and-prune pass.
type Runner struct {
	store   *store.Store
	clock   clockwork.Clock
	log     *slog.Logger
	policy  func() Policy
	onError func(error)
}

// NewRunner returns a runner. policy is read at the start of every pass so
// config reloads take effect without a restart. onError may be nil; when set
// it receives each failed pass's error so the supervisor can classify it.
func NewRunner(st *store.Store, clock clockwork.Clock, log *slog.Logger, policy func() Policy, onError func(error)) *Runner {
	return &Runner{store: st, clock: clock, log: log, policy: policy, onError: onError}
}

// RunOnce executes one full pass: hour rollup, day rollup, then retention.
// Each stage logs a retention_log entry only when it touched rows, so a pass
// over converged data leaves no audit trail.
func (r *Runner) RunOnce(ctx context.Context) error {
	now := r.clock.Now().UTC().Unix()
	pol := r.policy()

	if err := r.aggregateHours(ctx, now); err != nil {
		r.fail("aggregate hours", err)
		return err
	}
	if err := r.aggregateDays(ctx, now); err != nil {
		r.fail("aggregate days", err)
		return err
	}
	if err := r.store.SetConfigValue(ctx, store.KeyLastAggregation, strconv.FormatInt(now, 10), now); err != nil {
		r.log.Warn("rollup: record last aggregation", "error", err)
	}

	if err := r.prune(ctx, now, pol); err != nil {
		r.fail("prune", err)
		return err
	}
	if err := r.store.SetConfigValue(ctx, store.KeyLastCleanup, strconv.FormatInt(now, 10), now); err != nil {
		r.log.Warn("rollup: record last cleanup", "error", err)
	}
	return nil
}

func (r *Runner) aggregateHours(ctx context.Context, now int64) error {
	hours, err := r.store.HoursNeedingAggregation(ctx)
	if err != nil {
		return err
	}
	for _, h := range hours {
		if err := r.store.AggregateHour(ctx, h); err != nil {
			return err
		}
		if err := r.store.VerifyHourAggregate(ctx, h); err != nil {
			return err
		}
	}
	if len(hours) == 0 {
		return nil
	}
	r.log.Info("rollup: hours aggregated", "buckets", len(hours))
	return r.store.AppendRetentionLog(ctx, store.OpAggregateHour, now,
		int64(len(hours)), fmt.Sprintf("buckets=%d", len(hours)))
}

func (r *Runner) aggregateDays(ctx context.Context, now int64) error {
	days, err := r.store.DaysNeedingAggregation(ctx)
	if err != nil {
		return err
	}
	for _, d := range days {
		if err := r.store.AggregateDay(ctx, d); err != nil {
			return err
		}
	}
	if len(days) == 0 {
		return nil
	}
	r.log.Info("rollup: days aggregated", "buckets", len(days))
	return r.store.AppendRetentionLog(ctx, store.OpAggregateDay, now,
		int64(len(days)), fmt.Sprintf("buckets=%d", len(days)))
}

func (r *Runner) prune(ctx context.Context, now int64, pol Policy) error {
	// The TTL cutoff is clamped to the current bucket start: an open bucket
	// is never eligible no matter how aggressive the TTL is.
	rawCutoff := min(now-int64(pol.RawTTLDays)*86400, (now/3600)*3600)
	hourCutoff := min(now-int64(pol.HourTTLDays)*86400, (now/86400)*86400)

	rawDeleted, rawDeferred, err := r.store.DeleteStaleRaw(ctx, rawCutoff)
	if err != nil {
		return err
	}
	bd, bdeferred, err := r.store.DeleteStaleBrowserRaw(ctx, rawCutoff)
	if err != nil {
		return err
	}
	rawDeleted += bd
	rawDeferred += bdeferred
	if rawDeferred > 0 {
		r.log.Warn("rollup: stale raw rows not yet aggregated, deferring deletion",
			"rows", rawDeferred)
	}
	if rawDeleted > 0 {
		if err := r.store.AppendRetentionLog(ctx, store.OpCleanupRaw, now,
			rawDeleted, fmt.Sprintf("deferred=%d", rawDeferred)); err != nil {
			return err
		}
	}

	hrDeleted, hrDeferred, err := r.store.DeleteStaleHourly(ctx, hourCutoff)
	if err != nil {
		return err
	}
	bh, bhDeferred, err := r.store.DeleteStaleBrowserHourly(ctx, hourCutoff)
	if err != nil {
		return err
	}
	hrDeleted += bh
	hrDeferred += bhDeferred
	if hrDeferred > 0 {
		r.log.Warn("rollup: stale hourly rows not yet rolled up, deferring deletion",
			"rows", hrDeferred)
	}
	if hrDeleted > 0 {
		if err := r.store.AppendRetentionLog(ctx, store.OpCleanupHourly, now,
			hrDeleted, fmt.Sprintf("deferred=%d", hrDeferred)); err != nil {
			return err
		}
	}

	if rawDeleted > 0 || hrDeleted > 0 {
		r.log.Info("rollup: retention pass", "raw_deleted", rawDeleted, "hourly_deleted", hrDeleted)
	}
	return nil
}

func (r *Runner) fail(stage string, err error) {
	r.log.Error("rollup: pass failed", "stage", stage, "error", err)
	if r.onError != nil {
		r.onError(err)
	}
}

// Run executes one pass immediately, then on every tick until ctx is
// canceled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	r.log.Info("rollup: started", "interval", interval.String())
	_ = r.RunOnce(ctx)

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("rollup: stopped")
			return
		case <-ticker.Chan():
			_ = r.RunOnce(ctx)
		}
	}
}
