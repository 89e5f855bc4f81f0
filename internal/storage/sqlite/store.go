// Package sqlite implements the storage interfaces on an embedded SQLite
// database with an FTS5 lexical index. One file is shared by all three
// services: writes serialize on a single-connection pool, reads run on a
// small concurrent pool, and WAL mode keeps readers from blocking the writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memlayer/internal/storage"
)

// Pool sizes per service. SQLite allows one writer at a time; funneling all
// writes through one connection avoids SQLITE_BUSY under concurrent load.
const (
	readerPoolSize = 4
	writerPoolSize = 1
)

// Store implements storage.Store on SQLite.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// DefaultPath returns the well-known per-user database location,
// <platform-config-dir>/MemoryLayer/memory.db.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("sqlite: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "MemoryLayer", "memory.db"), nil
}

// Open opens (creating if necessary) the database at path with WAL
// self-healing. If the initial open fails due to stale WAL files left behind
// by a crashed process, it verifies no other process holds them and retries
// once after removing the stale -shm/-wal files.
func Open(path string) (*Store, error) {
	store, err := open(path)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) || !isWALStale(path) {
		return nil, err
	}

	removeStaleWAL(path)

	store, retryErr := open(path)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", path)
	return store, nil
}

// open opens the writer and reader pools and applies the schema.
func open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create data directory: %w", err)
	}

	// Pragmas ride in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open writer: %w", err)
	}
	writer.SetMaxOpenConns(writerPoolSize)
	writer.SetMaxIdleConns(writerPoolSize)
	writer.SetConnMaxLifetime(0)

	if _, err := writer.Exec(Schema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlite: open reader: %w", err)
	}
	reader.SetMaxOpenConns(readerPoolSize)
	reader.SetMaxIdleConns(readerPoolSize)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return &Store{writer: writer, reader: reader, path: path}, nil
}

// Ping verifies the store answers queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.reader.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite: ping: %w", storage.ErrUnavailable)
	}
	return nil
}

// Close releases both pools.
func (s *Store) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// wrapErr wraps a driver error, mapping lock contention to ErrUnavailable so
// handlers can surface 503 instead of 500.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("sqlite: %s: %w", op, storage.ErrUnavailable)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

// ms converts a time to stored Unix milliseconds.
func ms(t time.Time) int64 { return t.UnixMilli() }

// fromMS converts stored Unix milliseconds back to a UTC time.
func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		// lsof not available (e.g., Alpine Docker): do not delete.
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no process holds the files, so they are stale.
		return true
	}

	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
