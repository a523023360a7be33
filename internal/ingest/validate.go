package ingest

import (
	"encoding/json"
	"math"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
)

const (
	FlagNoPixels          = "no_pixels"
	FlagLengthMismatch    = "length_mismatch"
	FlagRedshiftInvalid   = "redshift_invalid"
	FlagFluxNotFinite     = "flux_not_finite"
	FlagIvarNegative      = "ivar_negative"
	FlagOffGrid           = "off_grid"
	FlagWaveNotIncreasing = "wave_not_increasing"
	FlagNoWeight          = "no_weight"
)

// ValidateForest returns the quality flags of f. A forest with any flag is
// not fed to the estimator, except for FlagNoWeight which the continuum fit
// handles as a rejected object.
func ValidateForest(f *forest.Forest, g *grid.Grids) []string {
	var flags []string

	n := len(f.Flux)
	if n == 0 {
		return []string{FlagNoPixels}
	}
	if len(f.Wave) != n || len(f.Ivar) != n || (f.ExposuresDiff != nil && len(f.ExposuresDiff) != n) {
		return []string{FlagLengthMismatch}
	}

	if !(f.Z > 0) || math.IsInf(f.Z, 0) {
		flags = append(flags, FlagRedshiftInvalid)
	}

	var nonFinite, negative, offGrid, unordered bool
	var sumIvar float64
	obs := g.Observed()
	tol := obs.Step() * 1e-3
	for i := range f.Flux {
		if math.IsNaN(f.Flux[i]) || math.IsInf(f.Flux[i], 0) {
			nonFinite = true
		}
		if f.Ivar[i] < 0 || math.IsNaN(f.Ivar[i]) {
			negative = true
		} else {
			sumIvar += f.Ivar[i]
		}
		x := f.Wave[i]
		if j := obs.Nearest(x); math.Abs(obs.At(j)-x) > tol {
			offGrid = true
		}
		if i > 0 && !(x > f.Wave[i-1]) {
			unordered = true
		}
	}
	if nonFinite {
		flags = append(flags, FlagFluxNotFinite)
	}
	if negative {
		flags = append(flags, FlagIvarNegative)
	}
	if offGrid {
		flags = append(flags, FlagOffGrid)
	}
	if unordered {
		flags = append(flags, FlagWaveNotIncreasing)
	}
	if !negative && sumIvar == 0 {
		flags = append(flags, FlagNoWeight)
	}

	return flags
}

// Blocking reports whether flags exclude the forest from the run.
func Blocking(flags []string) bool {
	for _, f := range flags {
		if f != FlagNoWeight {
			return true
		}
	}
	return false
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
