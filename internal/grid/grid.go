// Package grid holds the process-wide wavelength samplings shared by every
// forest: the observed-frame pixel grid and the rest-frame grid on which the
// mean continuum is sampled. Both are built once and never mutated.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// Solution selects the wavelength coordinate used for sampling.
type Solution string

const (
	// Linear samples evenly in wavelength; coordinates are in Angstrom.
	Linear Solution = "lin"
	// Log samples evenly in log10 wavelength; coordinates are log10(Angstrom).
	Log Solution = "log"
)

// ErrNotInitialized is returned when grid parameters are missing or invalid.
var ErrNotInitialized = errors.New("wavelength grid not initialized")

// Spec describes both grids. Wavelength limits are always in Angstrom. Steps
// are in the native coordinate of the solution (Angstrom for lin, dex for log).
type Spec struct {
	Solution Solution
	ObsMin   float64
	ObsMax   float64
	ObsStep  float64
	RestMin  float64
	RestMax  float64
	RestStep float64
}

// Axis is an evenly spaced sequence of coordinates.
type Axis struct {
	start float64
	step  float64
	n     int
}

// NewAxis returns an axis with n samples start, start+step, ...
func NewAxis(start, step float64, n int) Axis {
	return Axis{start: start, step: step, n: n}
}

func (a Axis) Len() int { return a.n }

func (a Axis) Step() float64 { return a.step }

// At returns the i-th coordinate.
func (a Axis) At(i int) float64 { return a.start + float64(i)*a.step }

// First and Last return the end coordinates of the axis.
func (a Axis) First() float64 { return a.start }

func (a Axis) Last() float64 { return a.At(a.n - 1) }

// Values returns a fresh copy of all coordinates.
func (a Axis) Values() []float64 {
	out := make([]float64, a.n)
	for i := range out {
		out[i] = a.At(i)
	}
	return out
}

// Nearest returns the index of the sample closest to x, clamped to the axis.
func (a Axis) Nearest(x float64) int {
	if a.n == 0 {
		return -1
	}
	i := int(math.Floor((x-a.start)/a.step + 0.5))
	if i < 0 {
		return 0
	}
	if i >= a.n {
		return a.n - 1
	}
	return i
}

// FindBins maps every value to its nearest sample on the axis.
func (a Axis) FindBins(values []float64) []int {
	bins := make([]int, len(values))
	for i, v := range values {
		bins[i] = a.Nearest(v)
	}
	return bins
}

// Grids is the immutable pair of observed and rest-frame samplings.
type Grids struct {
	solution Solution
	observed Axis
	rest     Axis
}

// New validates spec and builds the grids.
func New(spec Spec) (*Grids, error) {
	if spec.Solution != Linear && spec.Solution != Log {
		return nil, fmt.Errorf("%w: wave solution %q must be %q or %q", ErrNotInitialized, spec.Solution, Linear, Log)
	}
	if !(spec.ObsMin > 0 && spec.ObsMax > spec.ObsMin) {
		return nil, fmt.Errorf("%w: observed range [%v, %v]", ErrNotInitialized, spec.ObsMin, spec.ObsMax)
	}
	if !(spec.RestMin > 0 && spec.RestMax > spec.RestMin) {
		return nil, fmt.Errorf("%w: rest-frame range [%v, %v]", ErrNotInitialized, spec.RestMin, spec.RestMax)
	}
	if !(spec.ObsStep > 0) || !(spec.RestStep > 0) {
		return nil, fmt.Errorf("%w: pixel steps must be positive (observed %v, rest %v)", ErrNotInitialized, spec.ObsStep, spec.RestStep)
	}

	g := &Grids{solution: spec.Solution}
	obsMin, obsMax := spec.ObsMin, spec.ObsMax
	restMin, restMax := spec.RestMin, spec.RestMax
	if spec.Solution == Log {
		obsMin, obsMax = math.Log10(obsMin), math.Log10(obsMax)
		restMin, restMax = math.Log10(restMin), math.Log10(restMax)
	}

	// Observed pixels sit on the grid nodes, rest-frame samples on bin centres.
	nObs := int(math.Floor((obsMax-obsMin)/spec.ObsStep+1e-9)) + 1
	nRest := int(math.Floor((restMax - restMin) / spec.RestStep))
	if nObs < 2 || nRest < 2 {
		return nil, fmt.Errorf("%w: grids need at least two samples (observed %d, rest %d)", ErrNotInitialized, nObs, nRest)
	}
	g.observed = NewAxis(obsMin, spec.ObsStep, nObs)
	g.rest = NewAxis(restMin+spec.RestStep/2, spec.RestStep, nRest)
	return g, nil
}

func (g *Grids) Solution() Solution { return g.solution }

func (g *Grids) Observed() Axis { return g.observed }

func (g *Grids) Rest() Axis { return g.rest }

// ToRest converts an observed coordinate to the emitter frame.
func (g *Grids) ToRest(x, z float64) float64 {
	if g.solution == Log {
		return x - math.Log10(1+z)
	}
	return x / (1 + z)
}

// ToObserved is the inverse of ToRest.
func (g *Grids) ToObserved(x, z float64) float64 {
	if g.solution == Log {
		return x + math.Log10(1+z)
	}
	return x * (1 + z)
}

// Wavelength converts a native coordinate to Angstrom.
func (g *Grids) Wavelength(x float64) float64 {
	if g.solution == Log {
		return math.Pow(10, x)
	}
	return x
}

// VarianceGrid returns n bin centres evenly spread across the observed range.
// Variance functions are sampled on it.
func (g *Grids) VarianceGrid(n int) Axis {
	width := (g.observed.Last() - g.observed.First()) / float64(n)
	return NewAxis(g.observed.First()+width/2, width, n)
}
