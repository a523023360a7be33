// Package store persists forests, runs, per-iteration diagnostics and final
// per-object outputs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/lyadelta/internal/metrics"
)

// ErrNotFound is returned when a requested run, iteration or object does
// not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	log *zap.Logger
	// maxRetryTime bounds the retries of a busy database.
	maxRetryTime time.Duration
}

func New(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log, maxRetryTime: 30 * time.Second}
}

// Open opens the SQLite database at path with WAL journaling and a busy
// timeout. Use ":memory:" for a throwaway database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// isBusy reports whether err is a transient lock conflict.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry runs fn in a transaction, retrying busy errors with exponential
// backoff. Any other error aborts immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = s.maxRetryTime
	err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		s.log.Warn("database busy, retrying", zap.String("op", op), zap.Duration("after", d), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func classify(err error) error {
	if isBusy(err) {
		return err
	}
	return backoff.Permanent(err)
}
