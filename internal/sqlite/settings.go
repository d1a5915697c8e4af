package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	selectSettingBase = `SELECT
    key,
    value,
    value_type,
    category,
    description,
    is_sensitive,
    created_at,
    updated_at
FROM system_settings`

	upsertSettingQuery = `INSERT INTO system_settings (
    key,
    value,
    value_type,
    category,
    description,
    is_sensitive
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    value_type = excluded.value_type,
    category = excluded.category,
    description = excluded.description,
    is_sensitive = excluded.is_sensitive,
    updated_at = datetime('now')`

	deleteSettingQuery = `DELETE FROM system_settings WHERE key = ?`
)

// Setting is one operator-editable runtime setting.
type Setting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	ValueType   string `json:"value_type"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	IsSensitive bool   `json:"is_sensitive"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// GetSetting retrieves a setting value from the database.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.readDB.QueryRowContext(ctx, "SELECT value FROM system_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetSettingWithDefault retrieves a setting value or returns the default if not found.
func (db *DB) GetSettingWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := db.GetSetting(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetBoolSetting retrieves a boolean setting value.
func (db *DB) GetBoolSetting(ctx context.Context, key string, defaultValue bool) bool {
	value, err := db.GetSetting(ctx, key)
	if err != nil {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// GetIntSetting retrieves an integer setting value.
func (db *DB) GetIntSetting(ctx context.Context, key string, defaultValue int) int {
	value, err := db.GetSetting(ctx, key)
	if err != nil {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// GetFloat64Setting retrieves a float64 setting value.
func (db *DB) GetFloat64Setting(ctx context.Context, key string, defaultValue float64) float64 {
	value, err := db.GetSetting(ctx, key)
	if err != nil {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

// GetDurationSetting retrieves a duration setting value.
func (db *DB) GetDurationSetting(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := db.GetSetting(ctx, key)
	if err != nil {
		return defaultValue
	}
	durationVal, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return durationVal
}

// ListSettings retrieves all settings.
func (db *DB) ListSettings(ctx context.Context) ([]Setting, error) {
	return db.listSettings(ctx, selectSettingBase+" ORDER BY category, key")
}

// ListSettingsByCategory retrieves settings for a specific category.
func (db *DB) ListSettingsByCategory(ctx context.Context, category string) ([]Setting, error) {
	settings, err := db.listSettings(ctx, selectSettingBase+" WHERE category = ? ORDER BY key", category)
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", category, err)
	}
	return settings, nil
}

func (db *DB) listSettings(ctx context.Context, query string, args ...any) ([]Setting, error) {
	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var (
			st          Setting
			description sql.NullString
			sensitive   int64
		)
		if err := rows.Scan(&st.Key, &st.Value, &st.ValueType, &st.Category, &description, &sensitive, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		st.Description = description.String
		st.IsSensitive = sensitive != 0
		settings = append(settings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return settings, nil
}

// UpsertSetting inserts or updates a setting.
func (db *DB) UpsertSetting(ctx context.Context, key, value, valueType, category, description string, isSensitive bool) error {
	_, err := db.writeDB.ExecContext(ctx, upsertSettingQuery,
		key,
		value,
		valueType,
		category,
		nullableString(description),
		boolToInt(isSensitive),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting deletes a setting.
func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	res, err := db.writeDB.ExecContext(ctx, deleteSettingQuery, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
