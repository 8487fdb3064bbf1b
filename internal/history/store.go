// Package history records finished batch runs in a SQLite database so that
// past conversions can be listed from the CLI.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Each bump appends the
// statements that bring the previous version up to date to upgrades.
const schemaVersion = 2

// upgrades[i] moves a database from version i+1 to version i+2.
var upgrades = []string{
	`ALTER TABLE run_files ADD COLUMN saved_percent INTEGER NOT NULL DEFAULT 0;
ALTER TABLE run_files ADD COLUMN metadata_tags INTEGER NOT NULL DEFAULT 0;
UPDATE run_files SET saved_percent = CAST(ROUND((input_bytes - output_bytes) * 100.0 / input_bytes) AS INTEGER)
	WHERE status = 'done' AND input_bytes > 0;`,
}

// ErrSchemaMismatch indicates the database was written by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists run reports backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Run is the stored summary of one batch run.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
	Total        int
	Processed    int
	Errors       int
	Skipped      int
	InputBytes   int64
	OutputBytes  int64
	SavedPercent int
	Cancelled    bool
	Error        string
}

// Open initializes or connects to the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < schemaVersion && version >= 1 {
		return s.upgradeSchema(ctx, version)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) upgradeSchema(ctx context.Context, from int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for version := from; version < schemaVersion; version++ {
		if _, err := tx.ExecContext(ctx, upgrades[version-1]); err != nil {
			return fmt.Errorf("upgrade schema %d to %d: %w", version, version+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema upgrade: %w", err)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record stores a finished run and its per-file reports in one transaction.
func (s *Store) Record(ctx context.Context, report batch.RunReport) error {
	if strings.TrimSpace(report.ID) == "" {
		return errors.New("history: run id is required")
	}
	return retryOnBusy(ctx, func() error {
		return s.record(ctx, report)
	})
}

func (s *Store) record(ctx context.Context, r batch.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, started_at, finished_at, duration_ms, total, processed, errors, skipped,
		input_bytes, output_bytes, saved_percent, cancelled, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartTime), formatTime(r.EndTime), r.TotalTime.Milliseconds(),
		r.Total, r.Processed, r.Errors, r.Skipped,
		r.TotalInputSize, r.TotalOutputSize, r.SavedPercent, boolToInt(r.Cancelled), r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_files (
		run_id, idx, name, input_path, output_path, status, reason, error,
		input_bytes, output_bytes, format, quality, width, height, attempts, duration_ms,
		saved_percent, metadata_tags
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare file insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range r.Files {
		if _, err := stmt.ExecContext(ctx,
			r.ID, f.Index, f.Name, f.InputPath, f.OutputPath, string(f.Status), f.Reason, f.Error,
			f.InputSize, f.OutputSize, f.Format, f.Quality, f.Width, f.Height, f.Attempts, f.Time.Milliseconds(),
			f.SavedPercent, f.MetadataTags,
		); err != nil {
			return fmt.Errorf("insert file %s: %w", f.InputPath, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, started_at, finished_at, duration_ms, total, processed, errors, skipped,
		input_bytes, output_bytes, saved_percent, cancelled, error
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
			durationMS        int64
			cancelled         int
		)
		if err := rows.Scan(&run.ID, &started, &finished, &durationMS, &run.Total, &run.Processed,
			&run.Errors, &run.Skipped, &run.InputBytes, &run.OutputBytes, &run.SavedPercent,
			&cancelled, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.Cancelled = cancelled != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Files returns the per-file reports of one run in input order.
func (s *Store) Files(ctx context.Context, runID string) ([]batch.FileReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, name, input_path, output_path, status, reason, error,
		input_bytes, output_bytes, format, quality, width, height, attempts, duration_ms,
		saved_percent, metadata_tags
		FROM run_files WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run files: %w", err)
	}
	defer rows.Close()

	var files []batch.FileReport
	for rows.Next() {
		var (
			f          batch.FileReport
			status     string
			durationMS int64
		)
		if err := rows.Scan(&f.Index, &f.Name, &f.InputPath, &f.OutputPath, &status, &f.Reason, &f.Error,
			&f.InputSize, &f.OutputSize, &f.Format, &f.Quality, &f.Width, &f.Height, &f.Attempts, &durationMS,
			&f.SavedPercent, &f.MetadataTags); err != nil {
			return nil, fmt.Errorf("scan run file: %w", err)
		}
		f.Status = batch.Status(status)
		f.Time = time.Duration(durationMS) * time.Millisecond
		files = append(files, f)
	}
	return files, rows.Err()
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
