package expected

import (
	"errors"
	"fmt"
	"math"
)

// Interval is a closed parameter range.
type Interval struct {
	Min float64
	Max float64
}

func (i Interval) String() string { return fmt.Sprintf("(%g, %g)", i.Min, i.Max) }

// Clamp returns v limited to the interval.
func (i Interval) Clamp(v float64) float64 {
	if v < i.Min {
		return i.Min
	}
	if v > i.Max {
		return i.Max
	}
	return v
}

// Objective selects the function minimized by the continuum fit.
type Objective string

const (
	// ObjectiveChi2 minimizes sum w (flux - model)^2.
	ObjectiveChi2 Objective = "chi2"
	// ObjectiveLikelihood adds -sum ln w, the Gaussian normalisation term.
	ObjectiveLikelihood Objective = "likelihood"
)

// Fixed pins one variance function instead of fitting it. Either a single
// value or a previously fitted table (Xs on the observed grid) is used.
type Fixed struct {
	Set   bool
	Value float64
	Xs    []float64
	Ys    []float64
}

// FixedValue pins a function to v at every wavelength.
func FixedValue(v float64) Fixed { return Fixed{Set: true, Value: v} }

func (f Fixed) checkNonNegative() error {
	if len(f.Ys) == 0 {
		if !(f.Value >= 0) || math.IsInf(f.Value, 1) {
			return fmt.Errorf("value %v must be finite and non-negative", f.Value)
		}
		return nil
	}
	for i, y := range f.Ys {
		if !(y >= 0) || math.IsInf(y, 1) {
			return fmt.Errorf("table value %v at %v must be finite and non-negative", y, f.Xs[i])
		}
	}
	return nil
}

// FixedTable pins a function to a previously fitted table.
func FixedTable(xs, ys []float64) Fixed {
	return Fixed{Set: true, Xs: append([]float64(nil), xs...), Ys: append([]float64(nil), ys...)}
}

// Defaults, matching the DR16 analysis.
const (
	DefaultNumIterations     = 5
	DefaultNumBinsVariance   = 20
	DefaultOrder             = 1
	DefaultMinForestsPerCell = 100
)

var (
	DefaultLimitEta    = Interval{Min: 0.5, Max: 1.5}
	DefaultLimitVarLSS = Interval{Min: 0, Max: 0.3}
)

// Options configures an Estimator.
type Options struct {
	NumIterations     int
	NumBinsVariance   int
	Order             int
	LimitEta          Interval
	LimitVarLSS       Interval
	UseConstantWeight bool
	UseIvarAsWeight   bool
	NumProcessors     int
	Objective         Objective
	// MinForestsPerCell is the number of distinct forests a
	// (wavelength, pipeline variance) cell needs to enter the variance fit.
	MinForestsPerCell int
	FixEta            Fixed
	FixFudge          Fixed
}

// DefaultOptions returns the reference configuration.
func DefaultOptions() Options {
	return Options{
		NumIterations:     DefaultNumIterations,
		NumBinsVariance:   DefaultNumBinsVariance,
		Order:             DefaultOrder,
		LimitEta:          DefaultLimitEta,
		LimitVarLSS:       DefaultLimitVarLSS,
		NumProcessors:     1,
		Objective:         ObjectiveChi2,
		MinForestsPerCell: DefaultMinForestsPerCell,
	}
}

// ErrInvalidOptions wraps every validation failure.
var ErrInvalidOptions = errors.New("invalid expected flux options")

// Validate checks the options before any iteration starts.
func (o Options) Validate() error {
	switch {
	case o.NumIterations < 1:
		return fmt.Errorf("%w: num iterations must be at least 1, got %d", ErrInvalidOptions, o.NumIterations)
	case o.NumBinsVariance < 1:
		return fmt.Errorf("%w: num bins variance must be at least 1, got %d", ErrInvalidOptions, o.NumBinsVariance)
	case o.Order != 0 && o.Order != 1:
		return fmt.Errorf("%w: order must be 0 or 1, got %d", ErrInvalidOptions, o.Order)
	case !(o.LimitEta.Min <= o.LimitEta.Max) || o.LimitEta.Min < 0:
		return fmt.Errorf("%w: limit eta %v", ErrInvalidOptions, o.LimitEta)
	case !(o.LimitVarLSS.Min <= o.LimitVarLSS.Max) || o.LimitVarLSS.Min < 0:
		return fmt.Errorf("%w: limit var lss %v", ErrInvalidOptions, o.LimitVarLSS)
	case o.UseConstantWeight && o.UseIvarAsWeight:
		return fmt.Errorf("%w: use constant weight and use ivar as weight are exclusive", ErrInvalidOptions)
	case o.NumProcessors < 0:
		return fmt.Errorf("%w: num processors must not be negative, got %d", ErrInvalidOptions, o.NumProcessors)
	case o.Objective != "" && o.Objective != ObjectiveChi2 && o.Objective != ObjectiveLikelihood:
		return fmt.Errorf("%w: continuum objective %q", ErrInvalidOptions, o.Objective)
	case o.MinForestsPerCell < 0:
		return fmt.Errorf("%w: min forests per cell must not be negative", ErrInvalidOptions)
	}
	for name, f := range map[string]Fixed{"eta": o.FixEta, "fudge": o.FixFudge} {
		if !f.Set {
			continue
		}
		if len(f.Xs) != len(f.Ys) {
			return fmt.Errorf("%w: fixed %s table has %d coordinates and %d values", ErrInvalidOptions, name, len(f.Xs), len(f.Ys))
		}
		if err := f.checkNonNegative(); err != nil {
			return fmt.Errorf("%w: fixed %s %v", ErrInvalidOptions, name, err)
		}
	}
	if o.FixedWeights() && (o.FixEta.Set || o.FixFudge.Set) {
		return fmt.Errorf("%w: fixed eta/fudge values cannot be combined with a fixed-weight mode", ErrInvalidOptions)
	}
	return nil
}

// FixedWeights reports whether one of the degenerate weighting modes is on.
// In those modes the variance functions are never refitted.
func (o Options) FixedWeights() bool {
	return o.UseConstantWeight || o.UseIvarAsWeight
}
