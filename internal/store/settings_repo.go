package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tippelaget/config"

	"github.com/jmoiron/sqlx"
)

// SettingsRepo persists JSON documents in the settings table.
// Implements config.SettingsStore.
type SettingsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewSettingsRepo(db *sqlx.DB, timeout time.Duration) *SettingsRepo {
	return &SettingsRepo{db: db, timeout: timeout}
}

func (r *SettingsRepo) IsEnabled() bool {
	return r != nil && r.db != nil
}

func (r *SettingsRepo) Location() string {
	return "postgres:settings"
}

// LoadJSON decodes the stored value for key into dest. A missing key returns
// config.ErrSettingsNotFound.
func (r *SettingsRepo) LoadJSON(ctx context.Context, key string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var raw []byte
	err := r.db.GetContext(ctx, &raw, `SELECT value FROM settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return config.ErrSettingsNotFound
	}
	if err != nil {
		return fmt.Errorf("load setting %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

func (r *SettingsRepo) SaveJSON(ctx context.Context, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, raw)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}
