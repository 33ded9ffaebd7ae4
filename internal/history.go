package internal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryFileName is the repair journal inside the backup directory
const HistoryFileName = "history.db"

// HistoryEntry is one journaled repair or restore attempt
type HistoryEntry struct {
	ID           int64     `json:"id" yaml:"id"`
	SessionID    string    `json:"session_id" yaml:"session_id"`
	Action       string    `json:"action" yaml:"action"`
	Strategy     Strategy  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Status       Status    `json:"status" yaml:"status"`
	BackupID     string    `json:"backup_id,omitempty" yaml:"backup_id,omitempty"`
	RecordsFixed int       `json:"records_fixed" yaml:"records_fixed"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

const historySchema = `
CREATE TABLE IF NOT EXISTS repairs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT    NOT NULL,
	action        TEXT    NOT NULL,
	strategy      TEXT    NOT NULL DEFAULT '',
	status        TEXT    NOT NULL,
	backup_id     TEXT    NOT NULL DEFAULT '',
	records_fixed INTEGER NOT NULL DEFAULT 0,
	error         TEXT    NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_repairs_session ON repairs(session_id, created_at);
`

// History journals repair attempts in SQLite. The journal is informational:
// the store and the backups stay the source of truth.
type History struct {
	db *sql.DB
}

// OpenHistory opens the journal at path, creating the schema if needed
func OpenHistory(path string) (*History, error) {
	db, err := OpenDatabaseRW(path)
	if err != nil {
		return nil, err
	}
	return NewHistory(db)
}

// NewHistory wraps an open database, creating the schema if needed
func NewHistory(db *sql.DB) (*History, error) {
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the journal
func (h *History) Close() error {
	return h.db.Close()
}

// Record appends an entry
func (h *History) Record(ctx context.Context, e HistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO repairs (session_id, action, strategy, status, backup_id, records_fixed, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Action, string(e.Strategy), string(e.Status), e.BackupID, e.RecordsFixed, e.Error,
		e.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// List returns entries newest first, for one session or for all when
// sessionID is empty. A limit <= 0 returns everything.
func (h *History) List(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, session_id, action, strategy, status, backup_id, records_fixed, error, created_at FROM repairs`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		var strategy, status string
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Action, &strategy, &status, &e.BackupID, &e.RecordsFixed, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.Strategy = Strategy(strategy)
		e.Status = Status(status)
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}
