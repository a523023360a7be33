// Package forest defines the per-sightline data container.
package forest

import (
	"fmt"
	"math"
)

// Failure reasons recorded when a continuum fit is rejected.
const (
	ReasonNotConverged      = "did not converge"
	ReasonNegativeContinuum = "negative continuum"
)

// Forest is one object's spectrum on the common observed grid together with
// the quantities derived while extracting deltas.
//
// Wave holds the native grid coordinate of every pixel (log10 Angstrom for
// the log solution, Angstrom for the linear one).
type Forest struct {
	LosID int64
	RA    float64
	Dec   float64
	Z     float64

	Wave []float64
	Flux []float64
	Ivar []float64

	// ExposuresDiff is non-nil only for forests that carry independent noise
	// estimates. Those forests get an adjusted inverse variance on output.
	ExposuresDiff []float64

	// Continuum is nil when the fit failed; BadContinuumReason then says why.
	Continuum          []float64
	BadContinuumReason string

	Delta        []float64
	Weights      []float64
	AdjustedIvar []float64
}

// Len returns the number of pixels.
func (f *Forest) Len() int { return len(f.Flux) }

// HasContinuum reports whether the last continuum fit succeeded.
func (f *Forest) HasContinuum() bool { return f.Continuum != nil }

// HasExposuresDiff reports whether the forest carries exposure differences.
func (f *Forest) HasExposuresDiff() bool { return f.ExposuresDiff != nil }

// SetContinuum stores a successful fit.
func (f *Forest) SetContinuum(cont []float64) {
	f.Continuum = cont
	f.BadContinuumReason = ""
}

// RejectContinuum clears the continuum and records reason.
func (f *Forest) RejectContinuum(reason string) {
	f.Continuum = nil
	f.BadContinuumReason = reason
}

// Check verifies the array invariants the pipeline relies on.
func (f *Forest) Check() error {
	n := len(f.Flux)
	if n == 0 {
		return fmt.Errorf("forest %d: no pixels", f.LosID)
	}
	if len(f.Wave) != n || len(f.Ivar) != n {
		return fmt.Errorf("forest %d: array lengths differ (wave %d, flux %d, ivar %d)", f.LosID, len(f.Wave), n, len(f.Ivar))
	}
	if f.ExposuresDiff != nil && len(f.ExposuresDiff) != n {
		return fmt.Errorf("forest %d: exposures_diff has %d pixels, want %d", f.LosID, len(f.ExposuresDiff), n)
	}
	if f.Continuum != nil {
		if len(f.Continuum) != n {
			return fmt.Errorf("forest %d: continuum has %d pixels, want %d", f.LosID, len(f.Continuum), n)
		}
		for i, c := range f.Continuum {
			if !(c > 0) || math.IsInf(c, 0) {
				return fmt.Errorf("forest %d: continuum[%d] = %v is not strictly positive", f.LosID, i, c)
			}
		}
	}
	return nil
}
