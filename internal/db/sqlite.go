// Package db opens the SQLite state store and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Mode selects the pool shape of a SQLite handle.
type Mode string

// Pool modes. The write pool serializes all writers on one connection so
// transition appends never contend; the read pool serves listings.
const (
	ModeWrite Mode = "write"
	ModeRead  Mode = "read"
)

const (
	busyTimeoutMS   = "5000"
	synchronous     = "NORMAL"
	journalMode     = "WAL"
	defaultReadPool = 4
	pingTimeout     = 5 * time.Second
)

// OpenSQLite opens a SQLite pool at path in the given mode. readPool sizes
// the read pool and is ignored for writes (0 means 4).
func OpenSQLite(path string, mode Mode, readPool int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open state store (%s): %w", mode, err)
	}

	conns := 1
	if mode == ModeRead {
		conns = readPool
		if conns <= 0 {
			conns = defaultReadPool
		}
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state store (%s): %w", mode, err)
	}
	return db, nil
}

// Store bundles the write and read pools of one state database.
type Store struct {
	Write *sql.DB
	Read  *sql.DB
}

// Open opens both pools for path. The write pool is opened first so the
// WAL journal mode is set before readers attach.
func Open(path string, readPool int) (*Store, error) {
	w, err := OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	r, err := OpenSQLite(path, ModeRead, readPool)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Store{Write: w, Read: r}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	rerr := s.Read.Close()
	if err := s.Write.Close(); err != nil {
		return err
	}
	return rerr
}

// buildDSN constructs a SQLite DSN with hardened parameters.
func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeoutMS)
	params.Set("_synchronous", synchronous)
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
