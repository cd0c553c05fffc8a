package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DateLayout is how sweep dates are stored and exchanged.
const DateLayout = "2006-01-02"

// UserSettings is the singleton settings record
type UserSettings struct {
	DeleteOldFiles         bool       `json:"delete_old_files"`
	StartDate              *time.Time `json:"start_date,omitempty"`
	EndDate                *time.Time `json:"end_date,omitempty"`
	DelaySeconds           int        `json:"delay_seconds"`
	IgnoreSafeVersionCheck bool       `json:"ignore_safe_version_check"`
}

// Delay returns the inter-day delay as a duration.
func (s UserSettings) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

// GetSettings returns the singleton settings row, creating it with defaults
// if it is missing.
func (d *Database) GetSettings(ctx context.Context) (UserSettings, error) {
	var (
		s          UserSettings
		start, end sql.NullString
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT delete_old_files, start_date, end_date, delay_seconds, ignore_safe_version_check
		 FROM user_settings WHERE id = 1`,
	).Scan(&s.DeleteOldFiles, &start, &end, &s.DelaySeconds, &s.IgnoreSafeVersionCheck)
	if err == sql.ErrNoRows {
		if _, err := d.db.ExecContext(ctx, "INSERT INTO user_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING"); err != nil {
			return UserSettings{}, fmt.Errorf("failed to create settings: %w", err)
		}
		return d.GetSettings(ctx)
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	if s.StartDate, err = parseDate(start); err != nil {
		return UserSettings{}, fmt.Errorf("invalid start_date: %w", err)
	}
	if s.EndDate, err = parseDate(end); err != nil {
		return UserSettings{}, fmt.Errorf("invalid end_date: %w", err)
	}
	return s, nil
}

// SaveSettings overwrites the singleton settings row
func (d *Database) SaveSettings(ctx context.Context, s UserSettings) error {
	_, err := d.db.ExecContext(ctx, d.rebind(
		`UPDATE user_settings SET delete_old_files = ?, start_date = ?, end_date = ?,
		 delay_seconds = ?, ignore_safe_version_check = ?, updated_at = ? WHERE id = 1`),
		s.DeleteOldFiles, formatDate(s.StartDate), formatDate(s.EndDate),
		s.DelaySeconds, s.IgnoreSafeVersionCheck, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// AdvanceCursor stores next as the sweep start date.
func (d *Database) AdvanceCursor(ctx context.Context, next time.Time) error {
	_, err := d.db.ExecContext(ctx, d.rebind(
		"UPDATE user_settings SET start_date = ?, updated_at = ? WHERE id = 1"),
		next.Format(DateLayout), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to advance sweep cursor to %s: %w", next.Format(DateLayout), err)
	}
	return nil
}

func parseDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(DateLayout)
}
