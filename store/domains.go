package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"netmonitor/errkind"
)

// Domain is an interned fqdn with its derived parent domain. A domain whose
// parent equals its fqdn is a registrable (parent) domain.
type Domain struct {
	DomainID     int64  `json:"domain_id"`
	FQDN         string `json:"fqdn"`
	ParentDomain string `json:"parent_domain"`
	FirstSeen    int64  `json:"first_seen"`
	LastSeen     int64  `json:"last_seen"`
}

// UpsertDomain interns an already-normalized fqdn and returns its id.
func (s *Store) UpsertDomain(ctx context.Context, fqdn, parent string, now int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO domains (fqdn, parent_domain, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fqdn) DO UPDATE SET
			last_seen = MAX(last_seen, excluded.last_seen)
		RETURNING domain_id`,
		fqdn, parent, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert domain: %w", err)
	}
	return id, nil
}

// GetDomain returns the domain by id, or ErrNotFound.
func (s *Store) GetDomain(ctx context.Context, domainID int64) (*Domain, error) {
	d := &Domain{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT domain_id, fqdn, parent_domain, first_seen, last_seen
		FROM domains WHERE domain_id = ?`, domainID).Scan(
		&d.DomainID, &d.FQDN, &d.ParentDomain, &d.FirstSeen, &d.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: domain %d", errkind.ErrNotFound, domainID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get domain: %w", err)
	}
	return d, nil
}

// DomainUsage is a domain with visit counts over a requested window. The
// monitor does not attribute bytes to domains, so the byte totals reflect the
// zero-filled sample columns and SampleCount carries the signal.
type DomainUsage struct {
	DomainID      int64  `json:"domain_id"`
	FQDN          string `json:"fqdn"`
	ParentDomain  string `json:"parent_domain"`
	TotalBytesOut int64  `json:"total_bytes_out"`
	TotalBytesIn  int64  `json:"total_bytes_in"`
	SampleCount   int64  `json:"sample_count"`
	FirstSeen     int64  `json:"first_seen"`
	LastSeen      int64  `json:"last_seen"`
}

// ListDomainUsage returns per-domain sample totals for browser samples since
// the given instant. parentOnly restricts to rows where fqdn equals
// parent_domain.
func (s *Store) ListDomainUsage(ctx context.Context, since int64, limit int, parentOnly bool) ([]DomainUsage, error) {
	q := `
		SELECT
			d.domain_id,
			d.fqdn,
			d.parent_domain,
			COALESCE(SUM(b.bytes_out), 0),
			COALESCE(SUM(b.bytes_in), 0),
			COUNT(b.ts),
			d.first_seen,
			d.last_seen
		FROM domains d
		LEFT JOIN browser_domain_samples b ON b.domain_id = d.domain_id AND b.ts >= ?`
	if parentOnly {
		q += `
		WHERE d.fqdn = d.parent_domain`
	}
	q += `
		GROUP BY d.domain_id
		ORDER BY COUNT(b.ts) DESC, d.last_seen DESC
		LIMIT ?`

	rows, err := s.DB.QueryContext(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list domain usage: %w", err)
	}
	defer rows.Close()

	var out []DomainUsage
	for rows.Next() {
		var u DomainUsage
		if err := rows.Scan(&u.DomainID, &u.FQDN, &u.ParentDomain,
			&u.TotalBytesOut, &u.TotalBytesIn, &u.SampleCount,
			&u.FirstSeen, &u.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// TopDomains returns the N most-visited domains in (since, until] from the
// given tier, optionally restricted to parent domains.
func (s *Store) TopDomains(ctx context.Context, tier Tier, since, until int64, limit int, parentOnly bool) ([]DomainUsage, error) {
	var table, col string
	switch tier {
	case TierHourly:
		table, col = "browser_domain_hourly", "hour_start"
	case TierDaily:
		table, col = "browser_domain_daily", "day_start"
	default:
		table, col = "browser_domain_samples", "ts"
	}

	count := "COUNT(b.ts)"
	if tier == TierHourly || tier == TierDaily {
		count = "SUM(b.sample_count)"
	}

	q := fmt.Sprintf(`
		SELECT d.domain_id, d.fqdn, d.parent_domain,
			COALESCE(SUM(b.bytes_out), 0), COALESCE(SUM(b.bytes_in), 0), %s,
			d.first_seen, d.last_seen
		FROM %s b
		JOIN domains d ON d.domain_id = b.domain_id
		WHERE b.%s > ? AND b.%s <= ?`, count, table, col, col)
	if parentOnly {
		q += ` AND d.fqdn = d.parent_domain`
	}
	q += fmt.Sprintf(`
		GROUP BY d.domain_id
		ORDER BY %s DESC
		LIMIT ?`, count)

	rows, err := s.DB.QueryContext(ctx, q, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("store: top domains: %w", err)
	}
	defer rows.Close()

	var out []DomainUsage
	for rows.Next() {
		var u DomainUsage
		if err := rows.Scan(&u.DomainID, &u.FQDN, &u.ParentDomain,
			&u.TotalBytesOut, &u.TotalBytesIn, &u.SampleCount,
			&u.FirstSeen, &u.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
