package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"netmonitor/errkind"
)

// Keys the daemon maintains in the config table alongside user settings.
const (
	KeyLastAggregation = "last_aggregation"
	KeyLastCleanup     = "last_cleanup"
)

// GetConfigValue returns the stored value for key, or ErrNotFound.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: config key %q", errkind.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("store: get config %q: %w", key, err)
	}
	return v, nil
}

// SetConfigValue upserts one key.
func (s *Store) SetConfigValue(ctx context.Context, key, value string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("store: set config %q: %w", key, err)
	}
	return nil
}

// ConfigEntry is one stored setting.
type ConfigEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// ListConfig returns every stored setting ordered by key.
func (s *Store) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT key, value, updated_at FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("store: list config: %w", err)
	}
	defer rows.Close()

	var out []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteConfigValue removes one key; missing keys return ErrNotFound.
func (s *Store) DeleteConfigValue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.DB.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: delete config %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: config key %q", errkind.ErrNotFound, key)
	}
	return nil
}
