package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lox/lyadelta/internal/expected"
	"github.com/lox/lyadelta/internal/forest"
)

// LosOutput is the stored final product of one forest.
type LosOutput struct {
	LosID              int64
	Params             expected.FitParams
	BadContinuumReason string
	Delta              []float64
	expected.Output
}

// SaveOutputs stores one row per forest: the outputs of successful forests and
// the failure reason of rejected ones.
func (s *Store) SaveOutputs(ctx context.Context, runID int64, forests []*forest.Forest, outputs map[int64]expected.Output, params map[int64]expected.FitParams) error {
	return s.withRetry(ctx, "save outputs", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO los_outputs (run_id, los_id, zero_point, slope, bad_continuum_reason,
			                         continuum, mean_expected_flux, weights, delta, ivar)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, los_id) DO UPDATE SET
				zero_point = excluded.zero_point,
				slope = excluded.slope,
				bad_continuum_reason = excluded.bad_continuum_reason,
				continuum = excluded.continuum,
				mean_expected_flux = excluded.mean_expected_flux,
				weights = excluded.weights,
				delta = excluded.delta,
				ivar = excluded.ivar
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, f := range forests {
			o := outputs[f.LosID]
			var blobs [5][]byte
			for i, a := range [][]float64{o.Continuum, o.MeanExpectedFlux, o.Weights, f.Delta, o.Ivar} {
				if blobs[i], err = encodeFloats(a); err != nil {
					return fmt.Errorf("forest %d: %w", f.LosID, err)
				}
			}
			p, ok := params[f.LosID]
			if !ok {
				p = expected.FitParams{ZeroPoint: nanValue, Slope: nanValue}
			}
			var reason sql.NullString
			if f.BadContinuumReason != "" {
				reason = sql.NullString{String: f.BadContinuumReason, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, runID, f.LosID, nullFloat(p.ZeroPoint), nullFloat(p.Slope), reason,
				blobArg(blobs[0]), blobArg(blobs[1]), blobArg(blobs[2]), blobArg(blobs[3]), blobArg(blobs[4])); err != nil {
				return fmt.Errorf("insert output %d: %w", f.LosID, err)
			}
		}
		return nil
	})
}

// LoadOutput returns the stored output of one forest.
func (s *Store) LoadOutput(ctx context.Context, runID, losID int64) (*LosOutput, error) {
	var o LosOutput
	var zp, slope sql.NullFloat64
	var reason sql.NullString
	var cont, mef, weights, delta, ivar []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT los_id, zero_point, slope, bad_continuum_reason, continuum, mean_expected_flux, weights, delta, ivar
		FROM los_outputs WHERE run_id = ? AND los_id = ?
	`, runID, losID).Scan(&o.LosID, &zp, &slope, &reason, &cont, &mef, &weights, &delta, &ivar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d forest %d: %w", runID, losID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load output: %w", err)
	}
	o.Params = expected.FitParams{ZeroPoint: floatOrNaN(zp), Slope: floatOrNaN(slope)}
	o.BadContinuumReason = reason.String

	dst := []*[]float64{&o.Continuum, &o.MeanExpectedFlux, &o.Weights, &o.Delta, &o.Ivar}
	for i, blob := range [][]byte{cont, mef, weights, delta, ivar} {
		if *dst[i], err = decodeFloats(blob); err != nil {
			return nil, fmt.Errorf("forest %d: %w", losID, err)
		}
	}
	return &o, nil
}

// RejectionCounts returns the number of rejected forests per reason.
func (s *Store) RejectionCounts(ctx context.Context, runID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bad_continuum_reason, COUNT(*) FROM los_outputs
		WHERE run_id = ? AND bad_continuum_reason IS NOT NULL
		GROUP BY bad_continuum_reason
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("rejection counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason] = n
	}
	return out, rows.Err()
}
