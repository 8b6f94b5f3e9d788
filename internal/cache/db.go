package cache

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/001_initial.sql
var initialMigration string

// ErrLocked is returned when another run holds the cache file
var ErrLocked = errors.New("cache is in use by another run")

// Store is the on-disk cache of discovered threads for one archive
type Store struct {
	db   *sqlx.DB
	path string
	lock *flock.Flock
}

// Open opens or creates the cache at path and takes an exclusive lock on it.
// A cache file that cannot be read is moved aside and replaced by an empty one.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	db, err := openDB(path)
	if err != nil {
		logger.Warn("cache unreadable, starting fresh", "path", path, "error", err)

		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := moveAside(path, aside); renameErr != nil {
			_ = lock.Unlock()
			return nil, fmt.Errorf("failed to move corrupt cache aside: %w", renameErr)
		}

		db, err = openDB(path)
		if err != nil {
			_ = lock.Unlock()
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
	}

	return &Store{db: db, path: path, lock: lock}, nil
}

// OpenReadOnly opens an existing cache for reading without taking the lock,
// so it works while a run holds the cache. A cache that cannot be read is
// reported, never moved aside.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	var tableCount int
	if err := db.Get(&tableCount, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='threads'`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read cache %s: %w", path, err)
	}
	if tableCount == 0 {
		db.Close()
		return nil, fmt.Errorf("failed to read cache %s: no threads table", path)
	}

	return &Store{db: db, path: path}, nil
}

func openDB(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate runs database migrations
func migrate(db *sqlx.DB) error {
	var tableCount int
	err := db.Get(&tableCount, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='threads'
	`)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}

	if tableCount == 0 {
		if _, err := db.Exec(initialMigration); err != nil {
			return fmt.Errorf("failed to run initial migration: %w", err)
		}
	}

	return nil
}

// moveAside renames the cache file and drops its journal files
func moveAside(path, aside string) error {
	if err := os.Rename(path, aside); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	return nil
}

// Path returns the cache file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and releases the lock, if held
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock == nil {
		return err
	}
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// Remove deletes the cache file at path together with its journal and lock
// files. It fails with ErrLocked while a run is using the cache.
func Remove(path string) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock cache %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, path)
	}

	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	if err := lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	_ = os.Remove(path + ".lock")

	return errors.Join(errs...)
}
