// Package store keeps the rendezvous records in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type (
	txclock struct {
		ts   time.Time
		trid int64
	}

	Store struct {
		db   *sql.DB
		trid int64
	}

	ops struct {
		err        error
		tx         *sql.Tx
		clock      txclock
		autocommit bool
		closed     bool
	}

	// Ops is one transaction. Close commits when autocommit is set and no
	// operation failed, otherwise it rolls back.
	Ops interface {
		Err() error
		ExecContext(context.Context, string, ...any) (sql.Result, error)
		QueryContext(context.Context, string, ...any) (*sql.Rows, error)
		QueryRowContext(context.Context, string, ...any) *sql.Row
		Registry() RegistryOps
		Commit() error
		Rollback() error
		Close() error
		Fail(error)
	}
)

// OpenMemory returns a store that lives as long as the process.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: unable to open database: %w", err)
	}
	// every connection to :memory: is a different database
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	return s, s.openDB()
}

// Open keeps the database under dir/db/main.sqlite.
func Open(dir string) (*Store, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	mainfile := filepath.Join(dir, "db", "main.sqlite")
	err = os.MkdirAll(filepath.Dir(mainfile), 0755)
	if err != nil {
		return nil, fmt.Errorf("store: unable to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", mainfile)
	if err != nil {
		return nil, fmt.Errorf("store: unable to open database file: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	return s, s.openDB()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ops(ctx context.Context, autocommit bool) Ops {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ops{err: err, closed: true}
	}
	return &ops{
		tx:         tx,
		autocommit: autocommit,
		clock: txclock{
			ts:   time.Now(),
			trid: atomic.AddInt64(&s.trid, 1),
		},
	}
}

// InTx runs fn in a transaction that commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(Ops) error) error {
	o := s.Ops(ctx, false)
	if err := o.Err(); err != nil {
		return err
	}
	if err := fn(o); err != nil {
		o.Rollback()
		return err
	}
	return o.Commit()
}

func (s *Store) openDB() error {
	err := initDB(s.db)
	if err != nil {
		return fmt.Errorf("store: unable to initialize database: %w", err)
	}
	return nil
}
