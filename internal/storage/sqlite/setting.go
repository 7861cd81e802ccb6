package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stplan/sheetsweep/internal/model"
)

// GetSetting retrieves a setting by key.
func (r *Repository) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	query := `SELECT key, value, description, created_at, updated_at FROM settings WHERE key = ?`

	var s model.Setting
	var createdAt, updatedAt int64
	err := r.db.QueryRowContext(ctx, query, key).Scan(&s.Key, &s.Value, &s.Description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("setting %s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query setting: %w", err)
	}

	s.CreatedAt = timeFromUnix(createdAt)
	s.UpdatedAt = timeFromUnix(updatedAt)
	return &s, nil
}

// ListSettings returns all settings ordered by key.
func (r *Repository) ListSettings(ctx context.Context) ([]model.Setting, error) {
	query := `SELECT key, value, description, created_at, updated_at FROM settings ORDER BY key ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query settings: %w", err)
	}
	defer rows.Close()

	var settings []model.Setting
	for rows.Next() {
		var s model.Setting
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		s.CreatedAt = timeFromUnix(createdAt)
		s.UpdatedAt = timeFromUnix(updatedAt)
		settings = append(settings, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return settings, nil
}

// SetSetting inserts or updates a setting.
func (r *Repository) SetSetting(ctx context.Context, s model.Setting) error {
	now := time.Now().UTC().Unix()

	query := `
		INSERT INTO settings (key, value, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE settings.description END,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, s.Key, s.Value, s.Description, now, now)
	if err != nil {
		return fmt.Errorf("could not upsert setting: %w", err)
	}

	r.logger.Debugf("Set setting: %s", s.Key)
	return nil
}

// DeleteSetting deletes a setting by key.
func (r *Repository) DeleteSetting(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("could not delete setting: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("setting %s: %w", key, model.ErrNotFound)
	}

	return nil
}
