package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the read surface shared by *sql.DB and *sql.Tx. Summary helpers
// take it so the query layer can compose several reads in one snapshot.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Totals is a pair of byte sums.
type Totals struct {
	BytesOut int64 `json:"bytes_out"`
	BytesIn  int64 `json:"bytes_in"`
}

// Total returns out + in.
func (t Totals) Total() int64 { return t.BytesOut + t.BytesIn }

// ReadTx runs fn in a read-only transaction so multiple summary reads see one
// consistent snapshot of the database.
func (s *Store) ReadTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("store: begin read tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SumTier sums bytes over (since, until] from the chosen tier.
func (s *Store) SumTier(ctx context.Context, q Querier, tier Tier, since, until int64) (Totals, error) {
	var table, col string
	switch tier {
	case TierHourly:
		table, col = "hourly_aggregates", "hour_start"
	case TierDaily:
		table, col = "daily_aggregates", "day_start"
	default:
		table, col = "network_samples", "ts"
	}

	var t Totals
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(SUM(bytes_out), 0), COALESCE(SUM(bytes_in), 0)
		FROM %s WHERE %s > ? AND %s <= ?`, table, col, col),
		since, until).Scan(&t.BytesOut, &t.BytesIn)
	if err != nil {
		return Totals{}, fmt.Errorf("store: sum %s: %w", tier, err)
	}
	return t, nil
}

// TopAppToday returns the process with the highest raw byte total in
// (since, until], or nil when the window holds no samples.
func (s *Store) TopAppToday(ctx context.Context, q Querier, since, until int64) (*AppUsage, error) {
	u := &AppUsage{}
	err := q.QueryRowContext(ctx, `
		SELECT a.app_id, a.process_name, a.bundle_id,
			SUM(ns.bytes_out), SUM(ns.bytes_in), SUM(ns.bytes_out + ns.bytes_in),
			a.first_seen, a.last_seen
		FROM network_samples ns
		JOIN applications a ON a.app_id = ns.app_id
		WHERE ns.ts > ? AND ns.ts <= ?
		GROUP BY a.app_id
		ORDER BY SUM(ns.bytes_out + ns.bytes_in) DESC
		LIMIT 1`, since, until).Scan(
		&u.AppID, &u.ProcessName, &u.BundleID,
		&u.TotalBytesOut, &u.TotalBytesIn, &u.TotalBytes,
		&u.FirstSeen, &u.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: top app: %w", err)
	}
	return u, nil
}

// TopDomainToday returns the most-visited domain in (since, until] from raw
// browser samples, or nil when no visits were recorded.
func (s *Store) TopDomainToday(ctx context.Context, q Querier, since, until int64) (*DomainUsage, error) {
	u := &DomainUsage{}
	err := q.QueryRowContext(ctx, `
		SELECT d.domain_id, d.fqdn, d.parent_domain,
			COALESCE(SUM(b.bytes_out), 0), COALESCE(SUM(b.bytes_in), 0), COUNT(b.ts),
			d.first_seen, d.last_seen
		FROM browser_domain_samples b
		JOIN domains d ON d.domain_id = b.domain_id
		WHERE b.ts > ? AND b.ts <= ?
		GROUP BY d.domain_id
		ORDER BY COUNT(b.ts) DESC
		LIMIT 1`, since, until).Scan(
		&u.DomainID, &u.FQDN, &u.ParentDomain,
		&u.TotalBytesOut, &u.TotalBytesIn, &u.SampleCount,
		&u.FirstSeen, &u.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: top domain: %w", err)
	}
	return u, nil
}
