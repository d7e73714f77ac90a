package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tier identifies the resolution level a query reads from.
type Tier int

const (
	TierRaw Tier = iota
	TierHourly
	TierDaily
)

func (t Tier) String() string {
	switch t {
	case TierHourly:
		return "hourly"
	case TierDaily:
		return "daily"
	default:
		return "raw"
	}
}

// Sample is one per-process delta row. Ts is the end of the sampling
// interval; byte and packet counts are deltas for that interval.
type Sample struct {
	Ts                int64 `json:"ts"`
	AppID             int64 `json:"app_id"`
	BytesOut          int64 `json:"bytes_out"`
	BytesIn           int64 `json:"bytes_in"`
	PacketsOut        int64 `json:"packets_out"`
	PacketsIn         int64 `json:"packets_in"`
	ActiveConnections int64 `json:"active_connections"`
}

// InsertSamples writes one tick's delta rows and advances last_seen for the
// sampled apps, all in a single transaction. Duplicate (ts, app_id) rows are
// ignored so a replayed tick cannot double-count.
func (s *Store) InsertSamples(ctx context.Context, samples []Sample, now int64) error {
	if len(samples) == 0 {
		return nil
	}
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO network_samples
				(ts, app_id, bytes_out, bytes_in, packets_out, packets_in, active_connections)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ts, app_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("store: prepare sample insert: %w", err)
		}
		defer stmt.Close()

		appIDs := make([]int64, 0, len(samples))
		for _, smp := range samples {
			if _, err := stmt.ExecContext(ctx, smp.Ts, smp.AppID,
				smp.BytesOut, smp.BytesIn, smp.PacketsOut, smp.PacketsIn,
				smp.ActiveConnections); err != nil {
				return fmt.Errorf("store: insert sample: %w", err)
			}
			appIDs = append(appIDs, smp.AppID)
		}
		return s.TouchApplications(ctx, tx, appIDs, now)
	})
}

// InsertBrowserSample records an active-tab observation and advances
// last_seen on the visited domain and the reporting browser identity, all in
// one transaction. Byte fields are always zero (see schema). Repeated
// identical reports at the same second coalesce via the primary key.
func (s *Store) InsertBrowserSample(ctx context.Context, ts, domainID, appID int64) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO browser_domain_samples (ts, domain_id, app_id, bytes_out, bytes_in)
			VALUES (?, ?, ?, 0, 0)
			ON CONFLICT(ts, domain_id, app_id) DO NOTHING`,
			ts, domainID, appID); err != nil {
			return fmt.Errorf("store: insert browser sample: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE domains SET last_seen = MAX(last_seen, ?) WHERE domain_id = ?`,
			ts, domainID); err != nil {
			return fmt.Errorf("store: touch domain %d: %w", domainID, err)
		}
		return s.TouchApplications(ctx, tx, []int64{appID}, ts)
	})
}

// TimelinePoint is one bucket of a usage timeline.
type TimelinePoint struct {
	Ts       int64 `json:"ts"`
	BytesOut int64 `json:"bytes_out"`
	BytesIn  int64 `json:"bytes_in"`
}

// TimelineBuckets sums the chosen tier into fixed-width buckets anchored at
// since. Only buckets with data are returned; the query layer pads the rest.
// appID of 0 means all applications.
func (s *Store) TimelineBuckets(ctx context.Context, tier Tier, since, until, width int64, appID int64) (map[int64]TimelinePoint, error) {
	var table, col string
	switch tier {
	case TierHourly:
		table, col = "hourly_aggregates", "hour_start"
	case TierDaily:
		table, col = "daily_aggregates", "day_start"
	default:
		table, col = "network_samples", "ts"
	}

	q := fmt.Sprintf(`
		SELECT (%s - ?) / ? AS bucket, SUM(bytes_out), SUM(bytes_in)
		FROM %s
		WHERE %s > ? AND %s <= ?`, col, table, col, col)
	args := []any{since, width, since, until}
	if appID != 0 {
		q += ` AND app_id = ?`
		args = append(args, appID)
	}
	q += ` GROUP BY bucket`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: timeline buckets: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]TimelinePoint)
	for rows.Next() {
		var bucket int64
		var p TimelinePoint
		if err := rows.Scan(&bucket, &p.BytesOut, &p.BytesIn); err != nil {
			return nil, err
		}
		out[bucket] = p
	}
	return out, rows.Err()
}

// TickTotal is the byte total of one sampler tick summed across apps.
type TickTotal struct {
	Ts       int64
	BytesOut int64
	BytesIn  int64
}

// RecentTickTotals returns per-tick totals for raw samples with ts >= since,
// ordered by ts ascending. The bandwidth computation feeds on the last two.
func (s *Store) RecentTickTotals(ctx context.Context, since int64) ([]TickTotal, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT ts, SUM(bytes_out), SUM(bytes_in)
		FROM network_samples
		WHERE ts >= ?
		GROUP BY ts
		ORDER BY ts ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("store: recent tick totals: %w", err)
	}
	defer rows.Close()

	var out []TickTotal
	for rows.Next() {
		var t TickTotal
		if err := rows.Scan(&t.Ts, &t.BytesOut, &t.BytesIn); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FirstSampleTs returns the oldest raw sample timestamp, or 0 when the
// monitor has never recorded one. It takes a Querier so summary reads can run
// it inside their snapshot transaction.
func (s *Store) FirstSampleTs(ctx context.Context, q Querier) (int64, error) {
	var ts sql.NullInt64
	if err := q.QueryRowContext(ctx,
		`SELECT MIN(ts) FROM network_samples`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("store: first sample ts: %w", err)
	}
	return ts.Int64, nil
}
