package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore is the Store implementation backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens the ledger at path and migrates its schema.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent node completions.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StartRun opens a run record and returns its id.
func (s *SQLiteStore) StartRun(ctx context.Context, environment string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, environment, started_at) VALUES (?, ?, ?)`,
		id, environment, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run record.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// RecordScriptRun appends one node result to a run.
func (s *SQLiteStore) RecordScriptRun(ctx context.Context, rec ScriptRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO script_runs (run_id, table_ref, status, rows, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.TableRef, rec.Status, rec.Rows, rec.Duration.Milliseconds(), rec.Error)
	if err != nil {
		return fmt.Errorf("recording script run: %w", err)
	}
	return nil
}

// RecordAudit upserts the audit checkpoint for a table.
func (s *SQLiteStore) RecordAudit(ctx context.Context, tableRef, environment string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audits (table_ref, environment, materialized_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (table_ref, environment)
		 DO UPDATE SET materialized_at = excluded.materialized_at`,
		tableRef, environment, at.UTC())
	if err != nil {
		return fmt.Errorf("recording audit: %w", err)
	}
	return nil
}

// AuditTime returns the audit checkpoint for a table, if any.
func (s *SQLiteStore) AuditTime(ctx context.Context, tableRef, environment string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT materialized_at FROM audits WHERE table_ref = ? AND environment = ?`,
		tableRef, environment).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading audit time: %w", err)
	}
	return at, true, nil
}

// ClearAudits removes checkpoints, forcing the next run to rebuild.
func (s *SQLiteStore) ClearAudits(ctx context.Context, tableRefs []string, environment string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ref := range tableRefs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM audits WHERE table_ref = ? AND environment = ?`,
			ref, environment); err != nil {
			return fmt.Errorf("clearing audit for %s: %w", ref, err)
		}
	}
	return tx.Commit()
}

var _ Store = (*SQLiteStore)(nil)
