package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DownloadRecord is one locally retrieved activity file
type DownloadRecord struct {
	ID           int64     `json:"id"`
	DownloadTime time.Time `json:"download_time"`
	Filename     string    `json:"filename"`
	Uploaded     bool      `json:"uploaded"`
}

// RecordFilter narrows paginated listings
type RecordFilter int

const (
	FilterAll RecordFilter = iota
	FilterPending
	FilterUploaded
)

// ParseRecordFilter maps "all", "pending" or "uploaded" to a filter
func ParseRecordFilter(s string) (RecordFilter, error) {
	switch s {
	case "", "all":
		return FilterAll, nil
	case "pending":
		return FilterPending, nil
	case "uploaded":
		return FilterUploaded, nil
	}
	return FilterAll, fmt.Errorf("unknown record filter %q", s)
}

func (f RecordFilter) String() string {
	switch f {
	case FilterPending:
		return "pending"
	case FilterUploaded:
		return "uploaded"
	default:
		return "all"
	}
}

const recordColumns = "id, download_time, filename, uploaded"

// RecordExists reports whether filename already has a ledger entry
func (d *Database) RecordExists(ctx context.Context, filename string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		d.rebind("SELECT COUNT(1) FROM download_records WHERE filename = ?"), filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up record %q: %w", filename, err)
	}
	return n > 0, nil
}

// InsertRecord appends a ledger entry for filename. It returns
// ErrDuplicateRecord if the filename is already present.
func (d *Database) InsertRecord(ctx context.Context, filename string, downloadedAt time.Time) (DownloadRecord, error) {
	rec := DownloadRecord{
		DownloadTime: downloadedAt.UTC(),
		Filename:     filename,
	}
	err := d.db.QueryRowContext(ctx, d.rebind(
		`INSERT INTO download_records (download_time, filename, uploaded) VALUES (?, ?, ?)
		 ON CONFLICT (filename) DO NOTHING RETURNING id`),
		rec.DownloadTime, rec.Filename, false,
	).Scan(&rec.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadRecord{}, ErrDuplicateRecord
	}
	if err != nil {
		return DownloadRecord{}, fmt.Errorf("failed to insert record %q: %w", filename, err)
	}
	return rec, nil
}

// GetRecord returns the ledger entry with the given id
func (d *Database) GetRecord(ctx context.Context, id int64) (DownloadRecord, error) {
	row := d.db.QueryRowContext(ctx,
		d.rebind("SELECT "+recordColumns+" FROM download_records WHERE id = ?"), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return DownloadRecord{}, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	return rec, nil
}

// PendingRecords returns entries not yet uploaded, oldest first
func (d *Database) PendingRecords(ctx context.Context) ([]DownloadRecord, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(
		"SELECT "+recordColumns+" FROM download_records WHERE uploaded = ? ORDER BY id ASC"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LatestPending returns the newest entry not yet uploaded
func (d *Database) LatestPending(ctx context.Context) (DownloadRecord, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(
		"SELECT "+recordColumns+" FROM download_records WHERE uploaded = ? ORDER BY id DESC LIMIT 1"), false)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DownloadRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return DownloadRecord{}, fmt.Errorf("failed to get latest pending record: %w", err)
	}
	return rec, nil
}

// MarkUploaded flags the entry as uploaded. The update runs in its own
// transaction and is rolled back if it cannot be committed.
func (d *Database) MarkUploaded(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.rebind("UPDATE download_records SET uploaded = ? WHERE id = ?"), true, id)
	if err != nil {
		return fmt.Errorf("failed to mark record %d as uploaded: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upload flag for record %d: %w", id, err)
	}
	return nil
}

// DeleteRecord removes a ledger entry
func (d *Database) DeleteRecord(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.rebind("DELETE FROM download_records WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete record %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListRecordsPaginated returns a page of entries, newest first.
// A pageSize of 0 disables pagination.
func (d *Database) ListRecordsPaginated(ctx context.Context, filter RecordFilter, page, pageSize int) ([]DownloadRecord, error) {
	query := "SELECT " + recordColumns + " FROM download_records"
	var args []any
	switch filter {
	case FilterPending:
		query += " WHERE uploaded = ?"
		args = append(args, false)
	case FilterUploaded:
		query += " WHERE uploaded = ?"
		args = append(args, true)
	}
	query += " ORDER BY id DESC"
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		offset := (page - 1) * pageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, offset)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountRecords returns the number of entries matching filter
func (d *Database) CountRecords(ctx context.Context, filter RecordFilter) (int, error) {
	query := "SELECT COUNT(1) FROM download_records"
	var args []any
	switch filter {
	case FilterPending:
		query += " WHERE uploaded = ?"
		args = append(args, false)
	case FilterUploaded:
		query += " WHERE uploaded = ?"
		args = append(args, true)
	}

	var n int
	if err := d.db.QueryRowContext(ctx, d.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (DownloadRecord, error) {
	var rec DownloadRecord
	err := row.Scan(&rec.ID, &rec.DownloadTime, &rec.Filename, &rec.Uploaded)
	return rec, err
}

// scanRecords converts database rows to DownloadRecord values
func scanRecords(rows *sql.Rows) ([]DownloadRecord, error) {
	var records []DownloadRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
