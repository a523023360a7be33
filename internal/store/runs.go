package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one execution of the expected flux computation.
type Run struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Order         int
	NumIterations int
	WaveSolution  string
	ConfigJSON    sql.NullString
	NumForests    sql.NullInt64
	Success       sql.NullBool
	ErrorMessage  sql.NullString
}

// StartRun records the start of a run and sets its ID.
func (s *Store) StartRun(ctx context.Context, run *Run) error {
	run.StartedAt = time.Now().UTC()
	return s.withRetry(ctx, "start run", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO runs (started_at, fit_order, num_iterations, wave_solution, config_json, num_forests)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.StartedAt, run.Order, run.NumIterations, run.WaveSolution, run.ConfigJSON, run.NumForests)
		if err != nil {
			return err
		}
		run.ID, err = res.LastInsertId()
		return err
	})
}

// FinishRun marks a run as finished. A nil runErr records success.
func (s *Store) FinishRun(ctx context.Context, run *Run, runErr error) error {
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Success = sql.NullBool{Bool: runErr == nil, Valid: true}
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}
	return s.withRetry(ctx, "finish run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE runs SET
				finished_at = ?,
				success = ?,
				error_message = ?
			WHERE id = ?
		`, run.FinishedAt, run.Success, run.ErrorMessage, run.ID)
		return err
	})
}

const runColumns = `id, started_at, finished_at, fit_order, num_iterations, wave_solution,
	config_json, num_forests, success, error_message`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Order, &r.NumIterations, &r.WaveSolution,
		&r.ConfigJSON, &r.NumForests, &r.Success, &r.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return r, nil
}

// LatestRun returns the most recent successful run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE success = TRUE ORDER BY id DESC LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
