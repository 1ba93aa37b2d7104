// Package msdb stores measurement tables (visibility sets and gridded
// output) in SQLite files: a main table of visibility rows, the usual
// sub-tables, a keyword table of JSON records and a HISTORY log.
//
// Each MS holds a single connection. Per-connection state (page cache size,
// attached databases) therefore applies to every statement issued through it.
package msdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Mode selects how Open treats the file.
type Mode int

const (
	// ModeOld opens an existing table for reading.
	ModeOld Mode = iota
	// ModeUpdate opens an existing table for reading and writing.
	ModeUpdate
	// ModeNew creates a table, replacing any file at the path.
	ModeNew
)

// ErrNotReadable is returned when a path is not a readable measurement table.
var ErrNotReadable = errors.New("table is not readable")

// MS is an open measurement table.
type MS struct {
	*sql.DB
	path string
	mode Mode
}

var writePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens the measurement table at path.
func Open(path string, mode Mode) (*MS, error) {
	switch mode {
	case ModeOld, ModeUpdate:
		if !IsReadable(path) {
			return nil, fmt.Errorf("table %s: %w", path, ErrNotReadable)
		}
	case ModeNew:
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove %s: %w", p, err)
			}
		}
	default:
		return nil, fmt.Errorf("unknown open mode %d", mode)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if mode != ModeOld {
		pragmas = writePragmas
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q on %s: %w", pragma, path, err)
		}
	}

	ms := &MS{DB: db, path: path, mode: mode}
	if mode != ModeOld {
		if err := ms.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return ms, nil
}

// Create is shorthand for Open(path, ModeNew).
func Create(path string) (*MS, error) { return Open(path, ModeNew) }

// Path returns the file the table lives in.
func (ms *MS) Path() string { return ms.path }

// Writable reports whether the table was opened for writing.
func (ms *MS) Writable() bool { return ms.mode != ModeOld }

// IsReadable reports whether path holds a measurement table.
func IsReadable(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return false
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false
	}
	defer db.Close()
	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'ms_main'`).Scan(&name)
	return err == nil
}

// SetTileCache resizes the connection page cache to kib KiB and releases
// cached pages back to the allocator. Zero restores the SQLite default.
func (ms *MS) SetTileCache(ctx context.Context, kib int) error {
	size := -kib
	if kib == 0 {
		size = -2000
	}
	if _, err := ms.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size=%d", size)); err != nil {
		return fmt.Errorf("set cache size: %w", err)
	}
	if _, err := ms.ExecContext(ctx, "PRAGMA shrink_memory"); err != nil {
		return fmt.Errorf("shrink memory: %w", err)
	}
	return nil
}

// Flush checkpoints the write-ahead log into the main file.
func (ms *MS) Flush(ctx context.Context) error {
	if !ms.Writable() {
		return nil
	}
	if _, err := ms.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint %s: %w", ms.path, err)
	}
	return nil
}
