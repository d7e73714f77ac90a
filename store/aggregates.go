package store

import (
	"context"
	"database/sql"
	"fmt"

	"netmonitor/errkind"
)

// HoursNeedingAggregation returns hour starts whose raw rows are missing from
// the hourly tier or whose recorded sample_count no longer matches the raw
// rows. Open hours qualify too: the upsert in AggregateHour replaces rather
// than adds, so re-aggregating a still-filling hour converges every pass and
// retention alone decides when raw rows may go.
func (s *Store) HoursNeedingAggregation(ctx context.Context) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT hour_start FROM (
			SELECT raw.hour_start
			FROM (
				SELECT (ts / 3600) * 3600 AS hour_start, app_id, COUNT(*) AS n
				FROM network_samples
				GROUP BY hour_start, app_id
			) raw
			LEFT JOIN hourly_aggregates h
				ON h.hour_start = raw.hour_start AND h.app_id = raw.app_id
			WHERE h.hour_start IS NULL OR h.sample_count != raw.n
			UNION
			SELECT raw.hour_start
			FROM (
				SELECT (ts / 3600) * 3600 AS hour_start, domain_id, app_id, COUNT(*) AS n
				FROM browser_domain_samples
				GROUP BY hour_start, domain_id, app_id
			) raw
			LEFT JOIN browser_domain_hourly h
				ON h.hour_start = raw.hour_start
				AND h.domain_id = raw.domain_id AND h.app_id = raw.app_id
			WHERE h.hour_start IS NULL OR h.sample_count != raw.n
		)
		GROUP BY hour_start
		ORDER BY hour_start ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: hours needing aggregation: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// AggregateHour folds raw samples for one hour into hourly_aggregates and
// browser_domain_hourly. The upsert overwrites existing rows so re-running
// after late or replayed raw data converges instead of double-counting.
func (s *Store) AggregateHour(ctx context.Context, hourStart int64) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hourly_aggregates
				(hour_start, app_id, bytes_out, bytes_in, packets_out, packets_in,
				 max_active_connections, sample_count)
			SELECT
				?, app_id,
				SUM(bytes_out), SUM(bytes_in), SUM(packets_out), SUM(packets_in),
				MAX(active_connections), COUNT(*)
			FROM network_samples
			WHERE (ts / 3600) * 3600 = ?
			GROUP BY app_id
			ON CONFLICT(hour_start, app_id) DO UPDATE SET
				bytes_out              = excluded.bytes_out,
				bytes_in               = excluded.bytes_in,
				packets_out            = excluded.packets_out,
				packets_in             = excluded.packets_in,
				max_active_connections = excluded.max_active_connections,
				sample_count           = excluded.sample_count`,
			hourStart, hourStart); err != nil {
			return fmt.Errorf("store: aggregate hour %d: %w", hourStart, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO browser_domain_hourly
				(hour_start, domain_id, app_id, bytes_out, bytes_in, sample_count)
			SELECT ?, domain_id, app_id, SUM(bytes_out), SUM(bytes_in), COUNT(*)
			FROM browser_domain_samples
			WHERE (ts / 3600) * 3600 = ?
			GROUP BY domain_id, app_id
			ON CONFLICT(hour_start, domain_id, app_id) DO UPDATE SET
				bytes_out    = excluded.bytes_out,
				bytes_in     = excluded.bytes_in,
				sample_count = excluded.sample_count`,
			hourStart, hourStart); err != nil {
			return fmt.Errorf("store: aggregate browser hour %d: %w", hourStart, err)
		}
		return nil
	})
}

// VerifyHourAggregate cross-checks the hourly tier for one hour against the
// raw samples it was built from. A count mismatch means the two tiers
// disagree in a way no retry can repair, so it surfaces as an invariant
// violation rather than a transient error.
func (s *Store) VerifyHourAggregate(ctx context.Context, hourStart int64) error {
	var rawN, aggN int64
	if err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM network_samples
		WHERE (ts / 3600) * 3600 = ?`, hourStart).Scan(&rawN); err != nil {
		return fmt.Errorf("store: verify hour %d: %w", hourStart, err)
	}
	if err := s.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(sample_count), 0) FROM hourly_aggregates
		WHERE hour_start = ?`, hourStart).Scan(&aggN); err != nil {
		return fmt.Errorf("store: verify hour %d: %w", hourStart, err)
	}
	// An hour whose raw rows already rotated out has nothing left to
	// cross-check; only a live mismatch is a violation.
	if rawN != 0 && rawN != aggN {
		return fmt.Errorf("%w: hour %d aggregate covers %d of %d raw samples",
			errkind.ErrInvariant, hourStart, aggN, rawN)
	}
	return nil
}

// DaysNeedingAggregation returns day starts whose hourly rows are missing
// from the daily tier or whose sample_count drifted.
func (s *Store) DaysNeedingAggregation(ctx context.Context) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT day_start FROM (
			SELECT hourly.day_start
			FROM (
				SELECT (hour_start / 86400) * 86400 AS day_start, app_id,
					SUM(sample_count) AS n
				FROM hourly_aggregates
				GROUP BY day_start, app_id
			) hourly
			LEFT JOIN daily_aggregates d
				ON d.day_start = hourly.day_start AND d.app_id = hourly.app_id
			WHERE d.day_start IS NULL OR d.sample_count != hourly.n
			UNION
			SELECT hourly.day_start
			FROM (
				SELECT (hour_start / 86400) * 86400 AS day_start, domain_id, app_id,
					SUM(sample_count) AS n
				FROM browser_domain_hourly
				GROUP BY day_start, domain_id, app_id
			) hourly
			LEFT JOIN browser_domain_daily d
				ON d.day_start = hourly.day_start
				AND d.domain_id = hourly.domain_id AND d.app_id = hourly.app_id
			WHERE d.day_start IS NULL OR d.sample_count != hourly.n
		)
		GROUP BY day_start
		ORDER BY day_start ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: days needing aggregation: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// AggregateDay folds hourly rows for one day into daily_aggregates and
// browser_domain_daily.
func (s *Store) AggregateDay(ctx context.Context, dayStart int64) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_aggregates
				(day_start, app_id, bytes_out, bytes_in, packets_out, packets_in,
				 max_active_connections, sample_count)
			SELECT
				?, app_id,
				SUM(bytes_out), SUM(bytes_in), SUM(packets_out), SUM(packets_in),
				MAX(max_active_connections), SUM(sample_count)
			FROM hourly_aggregates
			WHERE (hour_start / 86400) * 86400 = ?
			GROUP BY app_id
			ON CONFLICT(day_start, app_id) DO UPDATE SET
				bytes_out              = excluded.bytes_out,
				bytes_in               = excluded.bytes_in,
				packets_out            = excluded.packets_out,
				packets_in             = excluded.packets_in,
				max_active_connections = excluded.max_active_connections,
				sample_count           = excluded.sample_count`,
			dayStart, dayStart); err != nil {
			return fmt.Errorf("store: aggregate day %d: %w", dayStart, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO browser_domain_daily
				(day_start, domain_id, app_id, bytes_out, bytes_in, sample_count)
			SELECT ?, domain_id, app_id, SUM(bytes_out), SUM(bytes_in), SUM(sample_count)
			FROM browser_domain_hourly
			WHERE (hour_start / 86400) * 86400 = ?
			GROUP BY domain_id, app_id
			ON CONFLICT(day_start, domain_id, app_id) DO UPDATE SET
				bytes_out    = excluded.bytes_out,
				bytes_in     = excluded.bytes_in,
				sample_count = excluded.sample_count`,
			dayStart, dayStart); err != nil {
			return fmt.Errorf("store: aggregate browser day %d: %w", dayStart, err)
		}
		return nil
	})
}

// DeleteStaleRaw removes raw samples older than cutoff whose (hour, app) is
// already present in hourly_aggregates. Stale rows not yet aggregated are
// never deleted; their count comes back as deferred so the caller can warn.
func (s *Store) DeleteStaleRaw(ctx context.Context, cutoff int64) (deleted, deferred int64, err error) {
	err = s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM network_samples
			WHERE ts < ?
			  AND EXISTS (
				SELECT 1 FROM hourly_aggregates h
				WHERE h.hour_start = (network_samples.ts / 3600) * 3600
				  AND h.app_id = network_samples.app_id
			  )`, cutoff)
		if err != nil {
			return fmt.Errorf("store: delete stale raw: %w", err)
		}
		deleted, _ = res.RowsAffected()

		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM network_samples WHERE ts < ?`, cutoff).Scan(&deferred)
	})
	return deleted, deferred, err
}

// DeleteStaleBrowserRaw mirrors DeleteStaleRaw for browser samples, gated on
// browser_domain_hourly coverage.
func (s *Store) DeleteStaleBrowserRaw(ctx context.Context, cutoff int64) (deleted, deferred int64, err error) {
	err = s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM browser_domain_samples
			WHERE ts < ?
			  AND EXISTS (
				SELECT 1 FROM browser_domain_hourly h
				WHERE h.hour_start = (browser_domain_samples.ts / 3600) * 3600
				  AND h.domain_id = browser_domain_samples.domain_id
				  AND h.app_id = browser_domain_samples.app_id
			  )`, cutoff)
		if err != nil {
			return fmt.Errorf("store: delete stale browser raw: %w", err)
		}
		deleted, _ = res.RowsAffected()

		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM browser_domain_samples WHERE ts < ?`, cutoff).Scan(&deferred)
	})
	return deleted, deferred, err
}

// DeleteStaleHourly removes hourly rows older than cutoff whose (day, app) is
// covered by daily_aggregates.
func (s *Store) DeleteStaleHourly(ctx context.Context, cutoff int64) (deleted, deferred int64, err error) {
	err = s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM hourly_aggregates
			WHERE hour_start < ?
			  AND EXISTS (
				SELECT 1 FROM daily_aggregates d
				WHERE d.day_start = (hourly_aggregates.hour_start / 86400) * 86400
				  AND d.app_id = hourly_aggregates.app_id
			  )`, cutoff)
		if err != nil {
			return fmt.Errorf("store: delete stale hourly: %w", err)
		}
		deleted, _ = res.RowsAffected()

		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM hourly_aggregates WHERE hour_start < ?`, cutoff).Scan(&deferred)
	})
	return deleted, deferred, err
}

// DeleteStaleBrowserHourly mirrors DeleteStaleHourly for browser hourly rows.
func (s *Store) DeleteStaleBrowserHourly(ctx context.Context, cutoff int64) (deleted, deferred int64, err error) {
	err = s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM browser_domain_hourly
			WHERE hour_start < ?
			  AND EXISTS (
				SELECT 1 FROM browser_domain_daily d
				WHERE d.day_start = (browser_domain_hourly.hour_start / 86400) * 86400
				  AND d.domain_id = browser_domain_hourly.domain_id
				  AND d.app_id = browser_domain_hourly.app_id
			  )`, cutoff)
		if err != nil {
			return fmt.Errorf("store: delete stale browser hourly: %w", err)
		}
		deleted, _ = res.RowsAffected()

		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM browser_domain_hourly WHERE hour_start < ?`, cutoff).Scan(&deferred)
	})
	return deleted, deferred, err
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
