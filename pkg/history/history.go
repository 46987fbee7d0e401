// Package history keeps a local SQLite log of flash attempts so field issues
// can be diagnosed after the fact.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	envDBPath         = "FLASH_HISTORY_DB_PATH"
	defaultDirName    = ".biscuit-flasher"
	defaultDBFileName = "history.sqlite"
	attemptTableName  = "flash_attempts"
)

// Record is one flash attempt row.
type Record struct {
	Device     string
	Port       string
	EraseFirst bool
	Success    bool
	Reason     string
	ExitCode   int
	DurationMS int64
	StartedAt  time.Time
}

// Store appends attempt records to a local SQLite database.
type Store struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
}

// Open opens (creating if needed) the history database at the path from
// FLASH_HISTORY_DB_PATH, defaulting to ~/.biscuit-flasher/history.sqlite.
func Open() (*Store, error) {
	path, err := resolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt opens the history database at an explicit path.
func OpenAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrapf(err, "history: create dir %s failed", filepath.Dir(path))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "history: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO ` + attemptTableName + `
		(device, port, erase_first, success, reason, exit_code, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "history: prepare insert failed")
	}
	return &Store{db: db, stmt: stmt, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// RecordAttempt appends one attempt row.
func (s *Store) RecordAttempt(ctx context.Context, rec Record) error {
	if s == nil || s.stmt == nil {
		return nil
	}
	_, err := s.stmt.ExecContext(ctx,
		rec.Device,
		rec.Port,
		boolToInt(rec.EraseFirst),
		boolToInt(rec.Success),
		rec.Reason,
		rec.ExitCode,
		rec.DurationMS,
		rec.StartedAt.UnixMilli(),
	)
	return pkgerrors.Wrap(err, "history: insert attempt failed")
}

// RecentAttempts returns the newest attempt rows, most recent first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New("history: store is closed")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT device, port, erase_first, success, reason, exit_code, duration_ms, started_at
		FROM `+attemptTableName+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "history: query attempts failed")
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		var eraseFirst, success int
		var startedAt int64
		if err := rows.Scan(&rec.Device, &rec.Port, &eraseFirst, &success,
			&rec.Reason, &rec.ExitCode, &rec.DurationMS, &startedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "history: scan attempt row failed")
		}
		rec.EraseFirst = eraseFirst != 0
		rec.Success = success != 0
		rec.StartedAt = time.UnixMilli(startedAt)
		result = append(result, rec)
	}
	return result, pkgerrors.Wrap(rows.Err(), "history: iterate attempt rows failed")
}

// Close releases the prepared statement and the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.stmt != nil {
		s.stmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func resolveDatabasePath() (string, error) {
	if val := strings.TrimSpace(os.Getenv(envDBPath)); val != "" {
		return val, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "history: resolve home dir failed")
	}
	return filepath.Join(home, defaultDirName, defaultDBFileName), nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "history: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	createTable := `CREATE TABLE IF NOT EXISTS ` + attemptTableName + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device TEXT NOT NULL,
		port TEXT NOT NULL,
		erase_first INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		exit_code INTEGER,
		duration_ms INTEGER,
		started_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createTable); err != nil {
		return pkgerrors.Wrap(err, "history: init sqlite schema failed")
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
