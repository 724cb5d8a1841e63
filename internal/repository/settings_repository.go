package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/speaklab/booking-api/internal/models"
)

// SettingsRepository manages the system settings table.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs a SettingsRepository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetAll returns every setting row.
func (r *SettingsRepository) GetAll(ctx context.Context) ([]models.SystemSetting, error) {
	const query = `SELECT key, value, updated_by, updated_at FROM system_settings ORDER BY key ASC`
	var settings []models.SystemSetting
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// Get returns a single setting by key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*models.SystemSetting, error) {
	const query = `SELECT key, value, updated_by, updated_at FROM system_settings WHERE key = $1`
	var setting models.SystemSetting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		return nil, err
	}
	return &setting, nil
}

// Upsert writes a setting value.
func (r *SettingsRepository) Upsert(ctx context.Context, key, value string, updatedBy *string) error {
	const query = `INSERT INTO system_settings (key, value, updated_by, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, key, value, updatedBy, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}
