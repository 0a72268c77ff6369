// Package store owns durable state: the SQLite database shared by the
// space ledger, review tasks, and per-tenant conversation logs, plus the
// process-level file lock that keeps two instances off the same data dir.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	_ "modernc.org/sqlite"
)

const (
	dbFileName   = "mera.db"
	lockFileName = "mera.lock"
)

// LockConfig tunes how long Open waits for another instance to release
// the data directory.
type LockConfig struct {
	Retry    time.Duration
	MaxRetry int
}

type Store struct {
	db       *sql.DB
	dataDir  string
	fileLock *flock.Flock
}

// Open locks the data directory, opens the database, and applies the
// runtime pragmas. Callers must Close to release the lock.
func Open(dataDir string) (*Store, error) {
	return OpenWithLock(dataDir, LockConfig{})
}

func OpenWithLock(dataDir string, lock LockConfig) (*Store, error) {
	if lock.Retry <= 0 {
		lock.Retry = 100 * time.Millisecond
	}
	if lock.MaxRetry <= 0 {
		lock.MaxRetry = 20
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	fileLock := flock.New(filepath.Join(dataDir, lockFileName))
	if err := acquireLock(fileLock, lock); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, dbFileName))
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			fileLock.Unlock()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	return &Store{db: db, dataDir: dataDir, fileLock: fileLock}, nil
}

func acquireLock(fileLock *flock.Flock, lock LockConfig) error {
	for i := 0; i < lock.MaxRetry; i++ {
		locked, err := fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("store: acquire lock: %w", err)
		}
		if locked {
			return nil
		}
		if i < lock.MaxRetry-1 {
			time.Sleep(lock.Retry)
		}
	}
	return fmt.Errorf("store: data dir %s is locked by another instance", filepath.Dir(fileLock.Path()))
}

// DB exposes the shared database handle for the stores layered on top.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) DataDir() string { return s.dataDir }

func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.fileLock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}
