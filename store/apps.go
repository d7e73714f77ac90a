package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"netmonitor/errkind"
)

// Application is an interned process identity.
type Application struct {
	AppID       int64  `json:"app_id"`
	ProcessName string `json:"process_name"`
	BundleID    string `json:"bundle_id,omitempty"`
	FirstSeen   int64  `json:"first_seen"`
	LastSeen    int64  `json:"last_seen"`
}

// UpsertApplication interns (processName, bundleID) and returns the stable
// app id. A miss inserts with firstSeen = lastSeen = now; a hit advances
// lastSeen only.
func (s *Store) UpsertApplication(ctx context.Context, processName, bundleID string, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO applications (process_name, bundle_id, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(process_name, bundle_id) DO UPDATE SET
			last_seen = MAX(last_seen, excluded.last_seen)
		RETURNING app_id`,
		processName, bundleID, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert application: %w", err)
	}
	return id, nil
}

// TouchApplications advances last_seen for the given apps in one statement.
func (s *Store) TouchApplications(ctx context.Context, tx *sql.Tx, appIDs []int64, now int64) error {
	for _, id := range appIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE applications SET last_seen = MAX(last_seen, ?) WHERE app_id = ?`, now, id); err != nil {
			return fmt.Errorf("store: touch application %d: %w", id, err)
		}
	}
	return nil
}

// GetApplication returns the application by id, or ErrNotFound.
func (s *Store) GetApplication(ctx context.Context, appID int64) (*Application, error) {
	a := &Application{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT app_id, process_name, bundle_id, first_seen, last_seen
		FROM applications WHERE app_id = ?`, appID).Scan(
		&a.AppID, &a.ProcessName, &a.BundleID, &a.FirstSeen, &a.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: application %d", errkind.ErrNotFound, appID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get application: %w", err)
	}
	return a, nil
}

// SortKey enumerates the accepted usage-list sort columns. Values outside
// this set never reach SQL.
type SortKey string

const (
	SortTotalBytes SortKey = "totalBytes"
	SortBytesIn    SortKey = "bytesIn"
	SortBytesOut   SortKey = "bytesOut"
	SortLastSeen   SortKey = "lastSeen"
	SortFirstSeen  SortKey = "firstSeen"
)

// SortOrder enumerates sort directions.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

func (k SortKey) column() string {
	switch k {
	case SortBytesIn:
		return "total_bytes_in"
	case SortBytesOut:
		return "total_bytes_out"
	case SortLastSeen:
		return "last_seen"
	case SortFirstSeen:
		return "first_seen"
	default:
		return "total_bytes"
	}
}

// AppUsage is an application with byte totals over a requested window.
type AppUsage struct {
	AppID         int64  `json:"app_id"`
	ProcessName   string `json:"process_name"`
	BundleID      string `json:"bundle_id,omitempty"`
	TotalBytesOut int64  `json:"total_bytes_out"`
	TotalBytesIn  int64  `json:"total_bytes_in"`
	TotalBytes    int64  `json:"total_bytes"`
	FirstSeen     int64  `json:"first_seen"`
	LastSeen      int64  `json:"last_seen"`
}

// ListAppUsage returns per-app byte totals for raw samples since the given
// instant. sortBy/order must already be validated enum members; unknown keys
// fall back to total_bytes.
func (s *Store) ListAppUsage(ctx context.Context, since int64, limit int, sortBy SortKey, order SortOrder) ([]AppUsage, error) {
	dir := "DESC"
	if order == OrderAsc {
		dir = "ASC"
	}
	// The ORDER BY column comes from the closed SortKey enum, never from
	// caller input.
	q := fmt.Sprintf(`
		SELECT
			a.app_id,
			a.process_name,
			a.bundle_id,
			COALESCE(SUM(ns.bytes_out), 0) AS total_bytes_out,
			COALESCE(SUM(ns.bytes_in), 0)  AS total_bytes_in,
			COALESCE(SUM(ns.bytes_out + ns.bytes_in), 0) AS total_bytes,
			a.first_seen,
			a.last_seen
		FROM applications a
		LEFT JOIN network_samples ns ON ns.app_id = a.app_id AND ns.ts >= ?
		GROUP BY a.app_id
		ORDER BY %s %s
		LIMIT ?`, sortBy.column(), dir)

	rows, err := s.DB.QueryContext(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list app usage: %w", err)
	}
	defer rows.Close()

	var out []AppUsage
	for rows.Next() {
		var u AppUsage
		if err := rows.Scan(&u.AppID, &u.ProcessName, &u.BundleID,
			&u.TotalBytesOut, &u.TotalBytesIn, &u.TotalBytes,
			&u.FirstSeen, &u.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// TopApps returns the N apps with the highest byte totals in (since, until].
// The tier argument selects which table the totals come from.
func (s *Store) TopApps(ctx context.Context, tier Tier, since, until int64, limit int) ([]AppUsage, error) {
	var q string
	switch tier {
	case TierHourly:
		q = `
		SELECT a.app_id, a.process_name, a.bundle_id,
			SUM(h.bytes_out), SUM(h.bytes_in), SUM(h.bytes_out + h.bytes_in),
			a.first_seen, a.last_seen
		FROM hourly_aggregates h
		JOIN applications a ON a.app_id = h.app_id
		WHERE h.hour_start > ? AND h.hour_start <= ?
		GROUP BY a.app_id
		ORDER BY SUM(h.bytes_out + h.bytes_in) DESC
		LIMIT ?`
	case TierDaily:
		q = `
		SELECT a.app_id, a.process_name, a.bundle_id,
			SUM(d.bytes_out), SUM(d.bytes_in), SUM(d.bytes_out + d.bytes_in),
			a.first_seen, a.last_seen
		FROM daily_aggregates d
		JOIN applications a ON a.app_id = d.app_id
		WHERE d.day_start > ? AND d.day_start <= ?
		GROUP BY a.app_id
		ORDER BY SUM(d.bytes_out + d.bytes_in) DESC
		LIMIT ?`
	default:
		q = `
		SELECT a.app_id, a.process_name, a.bundle_id,
			SUM(ns.bytes_out), SUM(ns.bytes_in), SUM(ns.bytes_out + ns.bytes_in),
			a.first_seen, a.last_seen
		FROM network_samples ns
		JOIN applications a ON a.app_id = ns.app_id
		WHERE ns.ts > ? AND ns.ts <= ?
		GROUP BY a.app_id
		ORDER BY SUM(ns.bytes_out + ns.bytes_in) DESC
		LIMIT ?`
	}

	rows, err := s.DB.QueryContext(ctx, q, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("store: top apps: %w", err)
	}
	defer rows.Close()

	var out []AppUsage
	for rows.Next() {
		var u AppUsage
		if err := rows.Scan(&u.AppID, &u.ProcessName, &u.BundleID,
			&u.TotalBytesOut, &u.TotalBytesIn, &u.TotalBytes,
			&u.FirstSeen, &u.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
