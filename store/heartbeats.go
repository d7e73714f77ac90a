package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Heartbeat is one liveness probe written by a daemon worker.
type Heartbeat struct {
	WorkerName string  `json:"worker_name"`
	PID        int     `json:"pid"`
	Ts         int64   `json:"ts"`
	Goroutines int     `json:"goroutines"`
	MemAllocMB float64 `json:"mem_alloc_mb"`
}

// WriteHeartbeat appends a probe and trims probes for the same worker older
// than an hour.
func (s *Store) WriteHeartbeat(ctx context.Context, hb Heartbeat) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO heartbeats (worker_name, pid, ts, goroutines, mem_alloc_mb)
			VALUES (?, ?, ?, ?, ?)`,
			hb.WorkerName, hb.PID, hb.Ts, hb.Goroutines, hb.MemAllocMB); err != nil {
			return fmt.Errorf("store: write heartbeat: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM heartbeats WHERE worker_name = ? AND ts < ?`,
			hb.WorkerName, hb.Ts-3600); err != nil {
			return fmt.Errorf("store: trim heartbeats: %w", err)
		}
		return nil
	})
}

// LatestHeartbeat returns the newest probe for a worker, or nil when the
// worker has never reported.
func (s *Store) LatestHeartbeat(ctx context.Context, workerName string) (*Heartbeat, error) {
	hb := &Heartbeat{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT worker_name, pid, ts, goroutines, mem_alloc_mb
		FROM heartbeats
		WHERE worker_name = ?
		ORDER BY ts DESC
		LIMIT 1`, workerName).Scan(
		&hb.WorkerName, &hb.PID, &hb.Ts, &hb.Goroutines, &hb.MemAllocMB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest heartbeat: %w", err)
	}
	return hb, nil
}
