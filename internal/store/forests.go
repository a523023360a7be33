package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lox/lyadelta/internal/forest"
)

// SaveForests inserts or replaces forests. Forests whose arrays are unchanged
// are left alone. It returns the number of rows written.
func (s *Store) SaveForests(ctx context.Context, forests []*forest.Forest) (int, error) {
	for _, f := range forests {
		if err := f.Check(); err != nil {
			return 0, fmt.Errorf("save forests: %w", err)
		}
	}
	var written int
	err := s.withRetry(ctx, "save forests", func(tx *sql.Tx) error {
		written = 0
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO forests (los_id, ra, dec, z, num_pixels, wave, flux, ivar, exposures_diff, payload_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(los_id) DO UPDATE SET
				ra = excluded.ra,
				dec = excluded.dec,
				z = excluded.z,
				num_pixels = excluded.num_pixels,
				wave = excluded.wave,
				flux = excluded.flux,
				ivar = excluded.ivar,
				exposures_diff = excluded.exposures_diff,
				payload_hash = excluded.payload_hash
			WHERE forests.payload_hash != excluded.payload_hash
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, f := range forests {
			var blobs [4][]byte
			for i, a := range [][]float64{f.Wave, f.Flux, f.Ivar, f.ExposuresDiff} {
				if blobs[i], err = encodeFloats(a); err != nil {
					return fmt.Errorf("forest %d: %w", f.LosID, err)
				}
			}
			hash := hashFloats(f.Wave, f.Flux, f.Ivar, f.ExposuresDiff, []float64{f.RA, f.Dec, f.Z})
			res, err := stmt.ExecContext(ctx, f.LosID, f.RA, f.Dec, f.Z, f.Len(),
				blobs[0], blobs[1], blobs[2], blobArg(blobs[3]), hash)
			if err != nil {
				return fmt.Errorf("insert forest %d: %w", f.LosID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				written += int(n)
			}
		}
		return nil
	})
	return written, err
}

// LoadForests returns every stored forest ordered by LosID.
func (s *Store) LoadForests(ctx context.Context) ([]*forest.Forest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT los_id, ra, dec, z, wave, flux, ivar, exposures_diff
		FROM forests ORDER BY los_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query forests: %w", err)
	}
	defer rows.Close()

	var out []*forest.Forest
	for rows.Next() {
		var f forest.Forest
		var wave, flux, ivar, diff []byte
		if err := rows.Scan(&f.LosID, &f.RA, &f.Dec, &f.Z, &wave, &flux, &ivar, &diff); err != nil {
			return nil, err
		}
		dst := []*[]float64{&f.Wave, &f.Flux, &f.Ivar, &f.ExposuresDiff}
		for i, blob := range [][]byte{wave, flux, ivar, diff} {
			if *dst[i], err = decodeFloats(blob); err != nil {
				return nil, fmt.Errorf("forest %d: %w", f.LosID, err)
			}
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ForestStats summarises the stored forests.
type ForestStats struct {
	Count          int
	TotalPixels    int64
	TotalSizeBytes int64
	MinZ           float64
	MaxZ           float64
	WithExposures  int
}

// GetForestStats returns storage statistics for the forests table.
func (s *Store) GetForestStats(ctx context.Context) (*ForestStats, error) {
	var stats ForestStats
	var minZ, maxZ sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(num_pixels), 0),
		       COALESCE(SUM(LENGTH(wave) + LENGTH(flux) + LENGTH(ivar) + COALESCE(LENGTH(exposures_diff), 0)), 0),
		       MIN(z), MAX(z),
		       COALESCE(SUM(CASE WHEN exposures_diff IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM forests
	`).Scan(&stats.Count, &stats.TotalPixels, &stats.TotalSizeBytes, &minZ, &maxZ, &stats.WithExposures)
	if err != nil {
		return nil, fmt.Errorf("forest stats: %w", err)
	}
	stats.MinZ, stats.MaxZ = minZ.Float64, maxZ.Float64
	return &stats, nil
}
