package relay

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is one audited relay call
type Entry struct {
	Mode     string
	Provider string
	Status   int
	Cached   bool
	Duration time.Duration
	Error    string
	At       time.Time
}

// AuditLog records relay calls in the generations table created by
// telemetry.InitDB.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog wraps an open database
func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Record inserts e
func (a *AuditLog) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO generations (mode, provider, status, cached, duration_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.Mode, e.Provider, e.Status, e.Cached, e.Duration.Milliseconds(), e.Error, e.At,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT mode, provider, status, cached, duration_ms, error, created_at FROM generations ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var durationMS int64
		if err := rows.Scan(&e.Mode, &e.Provider, &e.Status, &e.Cached, &durationMS, &e.Error, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
