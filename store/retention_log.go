package store

import (
	"context"
	"fmt"
)

// Retention-log operation names.
const (
	OpAggregateHour = "aggregate-hour"
	OpAggregateDay  = "aggregate-day"
	OpCleanupRaw    = "cleanup-raw"
	OpCleanupHourly = "cleanup-hourly"
)

// RetentionEntry is one audit row written by aggregation or cleanup.
type RetentionEntry struct {
	LogID           int64  `json:"log_id"`
	Operation       string `json:"operation"`
	Ts              int64  `json:"ts"`
	RecordsAffected int64  `json:"records_affected"`
	Details         string `json:"details"`
}

// AppendRetentionLog records one maintenance operation.
func (s *Store) AppendRetentionLog(ctx context.Context, op string, ts, affected int64, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO retention_log (operation, ts, records_affected, details)
		VALUES (?, ?, ?, ?)`, op, ts, affected, details)
	if err != nil {
		return fmt.Errorf("store: append retention log: %w", err)
	}
	return nil
}

// ListRetentionLog returns the most recent entries, newest first.
func (s *Store) ListRetentionLog(ctx context.Context, limit int) ([]RetentionEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT log_id, operation, ts, records_affected, details
		FROM retention_log
		ORDER BY ts DESC, log_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list retention log: %w", err)
	}
	defer rows.Close()

	var out []RetentionEntry
	for rows.Next() {
		var e RetentionEntry
		if err := rows.Scan(&e.LogID, &e.Operation, &e.Ts, &e.RecordsAffected, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountRetentionLog returns the number of entries for one operation.
func (s *Store) CountRetentionLog(ctx context.Context, op string) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retention_log WHERE operation = ?`, op).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count retention log: %w", err)
	}
	return n, nil
}
