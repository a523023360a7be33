package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/lyadelta/internal/expected"
)

// DiagnosticsWriter saves the iterations of one run.
type DiagnosticsWriter struct {
	store *Store
	runID int64
}

// DiagnosticsWriter returns an expected.SnapshotWriter bound to runID.
func (s *Store) DiagnosticsWriter(runID int64) *DiagnosticsWriter {
	return &DiagnosticsWriter{store: s, runID: runID}
}

func (w *DiagnosticsWriter) SaveIteration(ctx context.Context, iteration int, d expected.Diagnostics) error {
	return w.store.SaveIteration(ctx, w.runID, iteration, d)
}

var nanValue = math.NaN()

// nullFloat maps NaN to SQL NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// SaveIteration replaces the diagnostics stored for (runID, iteration).
func (s *Store) SaveIteration(ctx context.Context, runID int64, iteration int, d expected.Diagnostics) error {
	return s.withRetry(ctx, "save iteration", func(tx *sql.Tx) error {
		for _, table := range []string{"stack_deltas", "var_func", "cont", "iterations"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ? AND iteration = ?`, runID, iteration); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO iterations (run_id, iteration, fit_order, saved_at) VALUES (?, ?, ?, ?)
		`, runID, iteration, d.Order, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert iteration: %w", err)
		}

		if err := insertStack(ctx, tx, runID, iteration, expected.FromFlux, d.Stack); err != nil {
			return err
		}
		if d.DeltaStack != nil {
			if err := insertStack(ctx, tx, runID, iteration, expected.FromDeltas, d.DeltaStack); err != nil {
				return err
			}
		}

		varStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO var_func (run_id, iteration, idx, wave, eta, var_lss, fudge, num_pixels, valid_fit, chi2)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare var_func: %w", err)
		}
		defer varStmt.Close()
		for i, b := range d.VarFunc {
			if _, err := varStmt.ExecContext(ctx, runID, iteration, i, b.Wave, b.Eta, b.VarLSS, b.Fudge, b.NumPixels, b.Valid, nullFloat(b.Chi2)); err != nil {
				return fmt.Errorf("insert var_func: %w", err)
			}
		}

		contStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cont (run_id, iteration, idx, wave, mean_cont, weight) VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare cont: %w", err)
		}
		defer contStmt.Close()
		for i, c := range d.Cont {
			if _, err := contStmt.ExecContext(ctx, runID, iteration, i, c.Wave, c.MeanCont, c.Weight); err != nil {
				return fmt.Errorf("insert cont: %w", err)
			}
		}
		return nil
	})
}

func insertStack(ctx context.Context, tx *sql.Tx, runID int64, iteration int, source expected.StackSource, rows []expected.StackRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stack_deltas (run_id, iteration, source, idx, wave, stack, weight) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare stack_deltas: %w", err)
	}
	defer stmt.Close()
	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, iteration, string(source), i, r.Wave, r.Stack, r.Weight); err != nil {
			return fmt.Errorf("insert stack_deltas: %w", err)
		}
	}
	return nil
}

// LoadIteration reads back what SaveIteration stored.
func (s *Store) LoadIteration(ctx context.Context, runID int64, iteration int) (expected.Diagnostics, error) {
	var d expected.Diagnostics
	err := s.db.QueryRowContext(ctx, `SELECT fit_order FROM iterations WHERE run_id = ? AND iteration = ?`, runID, iteration).Scan(&d.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("run %d iteration %d: %w", runID, iteration, ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("load iteration: %w", err)
	}

	if d.Stack, err = s.loadStack(ctx, runID, iteration, expected.FromFlux); err != nil {
		return d, err
	}
	if d.DeltaStack, err = s.loadStack(ctx, runID, iteration, expected.FromDeltas); err != nil {
		return d, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT wave, eta, var_lss, fudge, num_pixels, valid_fit, chi2
		FROM var_func WHERE run_id = ? AND iteration = ? ORDER BY idx
	`, runID, iteration)
	if err != nil {
		return d, fmt.Errorf("query var_func: %w", err)
	}
	for rows.Next() {
		var b expected.VarianceBin
		var chi2 sql.NullFloat64
		if err := rows.Scan(&b.Wave, &b.Eta, &b.VarLSS, &b.Fudge, &b.NumPixels, &b.Valid, &chi2); err != nil {
			rows.Close()
			return d, err
		}
		b.Chi2 = floatOrNaN(chi2)
		d.VarFunc = append(d.VarFunc, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT wave, mean_cont, weight FROM cont WHERE run_id = ? AND iteration = ? ORDER BY idx
	`, runID, iteration)
	if err != nil {
		return d, fmt.Errorf("query cont: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c expected.ContRow
		if err := rows.Scan(&c.Wave, &c.MeanCont, &c.Weight); err != nil {
			return d, err
		}
		d.Cont = append(d.Cont, c)
	}
	return d, rows.Err()
}

func (s *Store) loadStack(ctx context.Context, runID int64, iteration int, source expected.StackSource) ([]expected.StackRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wave, stack, weight FROM stack_deltas
		WHERE run_id = ? AND iteration = ? AND source = ? ORDER BY idx
	`, runID, iteration, string(source))
	if err != nil {
		return nil, fmt.Errorf("query stack_deltas: %w", err)
	}
	defer rows.Close()

	var out []expected.StackRow
	for rows.Next() {
		var r expected.StackRow
		if err := rows.Scan(&r.Wave, &r.Stack, &r.Weight); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListIterations returns the saved iteration numbers of a run in save order.
func (s *Store) ListIterations(ctx context.Context, runID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT iteration FROM iterations WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var it int
		if err := rows.Scan(&it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// FixedFromRun turns the final variance functions of a run into a pinned
// eta and fudge.
func (s *Store) FixedFromRun(ctx context.Context, runID int64) (eta, fudge expected.Fixed, err error) {
	d, err := s.LoadIteration(ctx, runID, expected.FinalIteration)
	if err != nil {
		return eta, fudge, err
	}
	xs := make([]float64, len(d.VarFunc))
	etas := make([]float64, len(d.VarFunc))
	fudges := make([]float64, len(d.VarFunc))
	for i, b := range d.VarFunc {
		xs[i], etas[i], fudges[i] = b.Wave, b.Eta, b.Fudge
	}
	return expected.FixedTable(xs, etas), expected.FixedTable(xs, fudges), nil
}
