// Package minimize is a small bounded nonlinear minimizer with per-parameter
// freezing. Bounded parameters are mapped to an unbounded internal space with
// the usual sine / square-root transforms and the problem is solved with
// gonum's Nelder-Mead simplex. Frozen parameters never enter the simplex.
package minimize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Param describes one parameter of the objective.
type Param struct {
	Name  string
	Start float64
	// Step is the expected scale of the first move away from Start.
	Step  float64
	Lower float64
	Upper float64
	Fixed bool
}

// Free returns an unbounded parameter.
func Free(name string, start, step float64) Param {
	return Param{Name: name, Start: start, Step: step, Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// Bounded returns a parameter limited to [lower, upper]. Either limit may be
// infinite.
func Bounded(name string, start, step, lower, upper float64) Param {
	return Param{Name: name, Start: start, Step: step, Lower: lower, Upper: upper}
}

// Fix returns a copy of p that is held at Start. Parameters whose bounds
// coincide are held fixed as well.
func (p Param) Fix() Param {
	p.Fixed = true
	return p
}

// Settings bounds the work done by Minimize.
type Settings struct {
	MaxEvaluations int
	Tolerance      float64
	// StallIterations is the number of simplex updates without improvement
	// after which the minimum is accepted.
	StallIterations int
}

// DefaultSettings are suitable for the low-dimensional fits of this module.
func DefaultSettings() Settings {
	return Settings{MaxEvaluations: 5000, Tolerance: 1e-10, StallIterations: 50}
}

// Result holds the external parameter values at the minimum.
type Result struct {
	Values      []float64
	F           float64
	Converged   bool
	Status      optimize.Status
	Evaluations int
}

// Value returns the fitted value of the named parameter, or NaN.
func (r Result) Value(params []Param, name string) float64 {
	for i, p := range params {
		if p.Name == name {
			return r.Values[i]
		}
	}
	return math.NaN()
}

var errBadParam = errors.New("minimize: invalid parameter")

// Minimize finds the minimum of f over the free parameters. f receives the
// full external parameter vector, frozen entries included.
func Minimize(f func(x []float64) float64, params []Param, settings Settings) (Result, error) {
	if settings.MaxEvaluations <= 0 {
		settings = DefaultSettings()
	}

	var free []transform
	external := make([]float64, len(params))
	for i, p := range params {
		if p.Lower > p.Upper {
			return Result{}, fmt.Errorf("%w: %s lower bound %v above upper bound %v", errBadParam, p.Name, p.Lower, p.Upper)
		}
		if math.IsNaN(p.Start) || p.Start < p.Lower || p.Start > p.Upper {
			return Result{}, fmt.Errorf("%w: %s start %v outside [%v, %v]", errBadParam, p.Name, p.Start, p.Lower, p.Upper)
		}
		external[i] = p.Start
		if !p.Fixed && p.Lower < p.Upper {
			free = append(free, newTransform(i, p))
		}
	}

	eval := func(u []float64) float64 {
		x := make([]float64, len(external))
		copy(x, external)
		for k, tr := range free {
			x[tr.index] = tr.toExternal(u[k])
		}
		v := f(x)
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	if len(free) == 0 {
		return Result{Values: external, F: f(external), Converged: true, Status: optimize.Success, Evaluations: 1}, nil
	}

	problem := optimize.Problem{Func: eval}
	opt := &optimize.Settings{
		FuncEvaluations: settings.MaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   settings.Tolerance,
			Relative:   settings.Tolerance,
			Iterations: settings.StallIterations,
		},
	}
	res, err := optimize.Minimize(problem, make([]float64, len(free)), opt, &optimize.NelderMead{SimplexSize: 1})
	if res == nil {
		return Result{Values: external, F: math.NaN()}, nil
	}

	values := make([]float64, len(external))
	copy(values, external)
	for k, tr := range free {
		values[tr.index] = tr.toExternal(res.X[k])
	}
	out := Result{
		Values:      values,
		F:           res.F,
		Status:      res.Status,
		Evaluations: res.FuncEvaluations,
	}
	out.Converged = err == nil && converged(res.Status) && !math.IsInf(res.F, 0) && !math.IsNaN(res.F)
	return out, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

// transform maps one free parameter between the simplex coordinate u and its
// external value. The simplex works on u = (int - int0) / scale so that a unit
// move corresponds roughly to one Step.
type transform struct {
	index int
	kind  int
	lower float64
	upper float64
	int0  float64
	scale float64
}

const (
	unbounded = iota
	lowerOnly
	upperOnly
	both
)

func newTransform(index int, p Param) transform {
	tr := transform{index: index, lower: p.Lower, upper: p.Upper}
	switch {
	case !math.IsInf(p.Lower, 0) && !math.IsInf(p.Upper, 0):
		tr.kind = both
	case !math.IsInf(p.Lower, 0):
		tr.kind = lowerOnly
	case !math.IsInf(p.Upper, 0):
		tr.kind = upperOnly
	default:
		tr.kind = unbounded
	}
	tr.int0 = tr.internal(p.Start)

	step := math.Abs(p.Step)
	if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		step = 0.1 * math.Max(math.Abs(p.Start), 1)
	}
	tr.scale = math.Abs(tr.internal(tr.clamp(p.Start+step)) - tr.int0)
	if tr.scale == 0 {
		tr.scale = math.Abs(tr.internal(tr.clamp(p.Start-step)) - tr.int0)
	}
	if tr.scale == 0 || math.IsNaN(tr.scale) {
		tr.scale = 1
	}
	return tr
}

func (tr transform) clamp(x float64) float64 {
	return math.Max(tr.lower, math.Min(tr.upper, x))
}

func (tr transform) internal(x float64) float64 {
	switch tr.kind {
	case both:
		s := 2*(x-tr.lower)/(tr.upper-tr.lower) - 1
		return math.Asin(math.Max(-1, math.Min(1, s)))
	case lowerOnly:
		d := x - tr.lower + 1
		return math.Sqrt(math.Max(d*d-1, 0))
	case upperOnly:
		d := tr.upper - x + 1
		return math.Sqrt(math.Max(d*d-1, 0))
	}
	return x
}

func (tr transform) toExternal(u float64) float64 {
	v := tr.int0 + tr.scale*u
	switch tr.kind {
	case both:
		return tr.lower + (tr.upper-tr.lower)/2*(math.Sin(v)+1)
	case lowerOnly:
		return tr.lower - 1 + math.Sqrt(v*v+1)
	case upperOnly:
		return tr.upper + 1 - math.Sqrt(v*v+1)
	}
	return v
}
