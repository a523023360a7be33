package expected

import (
	"math"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/minimize"
)

// FitParams are the best-fit amplitude and slope of one forest's continuum,
// both NaN when the fit was rejected.
type FitParams struct {
	ZeroPoint float64
	Slope     float64
}

// FitResult is what a single continuum fit reports back to the orchestrator.
type FitResult struct {
	LosID  int64
	Params FitParams
	Reason string
	// Evaluations is the number of objective evaluations spent.
	Evaluations int
}

// ContinuumFitter fits (slope*(x-xmin)/(xmax-xmin) + zero_point) * mean_cont(x)
// to one forest, x being the rest-frame coordinate.
type ContinuumFitter struct {
	grids          *grid.Grids
	order          int
	constantWeight bool
	objective      Objective
	settings       minimize.Settings
}

// NewContinuumFitter returns a fitter for the given polynomial order.
func NewContinuumFitter(g *grid.Grids, order int, constantWeight bool, objective Objective) *ContinuumFitter {
	if objective == "" {
		objective = ObjectiveChi2
	}
	return &ContinuumFitter{
		grids:          g,
		order:          order,
		constantWeight: constantWeight,
		objective:      objective,
		settings:       minimize.DefaultSettings(),
	}
}

// continuumProblem caches everything about one forest that does not depend
// on the trial parameters.
type continuumProblem struct {
	f        *forest.Forest
	meanCont []float64
	xNorm    []float64
}

func (cf *ContinuumFitter) newProblem(f *forest.Forest, snap *Snapshot) continuumProblem {
	rest := cf.grids.Rest()
	xMin, xMax := rest.First(), rest.Last()
	p := continuumProblem{
		f:        f,
		meanCont: make([]float64, f.Len()),
		xNorm:    make([]float64, f.Len()),
	}
	for i, x := range f.Wave {
		xr := cf.grids.ToRest(x, f.Z)
		p.meanCont[i] = snap.MeanCont.Shape(xr)
		p.xNorm[i] = (xr - xMin) / (xMax - xMin)
	}
	return p
}

// model evaluates the continuum for the given parameters into dst.
func (p continuumProblem) model(dst []float64, zeroPoint, slope float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(p.meanCont))
	}
	for i := range dst {
		dst[i] = (slope*p.xNorm[i] + zeroPoint) * p.meanCont[i]
	}
	return dst
}

// weight is 1/(c^2 * variance(c)), the flux-space inverse variance of a
// pixel under the trial continuum c. Unusable pixels get 0.
func (cf *ContinuumFitter) weight(vm VarianceModel, x, ivar, c float64) float64 {
	if cf.constantWeight {
		return 1
	}
	denom := c * c * vm.Variance(x, ivar, c)
	if !(denom > 0) || math.IsInf(denom, 1) {
		return 0
	}
	return 1 / denom
}

// Fit fits the continuum of f in place against snap. It never returns an
// error: failures are recorded on the forest.
func (cf *ContinuumFitter) Fit(f *forest.Forest, snap *Snapshot) FitResult {
	res := FitResult{LosID: f.LosID, Params: FitParams{ZeroPoint: math.NaN(), Slope: math.NaN()}}

	var sumFlux, sumIvar float64
	for i := range f.Flux {
		if f.Ivar[i] > 0 {
			sumFlux += f.Flux[i] * f.Ivar[i]
			sumIvar += f.Ivar[i]
		}
	}
	if !(sumIvar > 0) {
		f.RejectContinuum(forest.ReasonNotConverged)
		res.Reason = forest.ReasonNotConverged
		return res
	}
	zeroPoint := sumFlux / sumIvar

	p := cf.newProblem(f, snap)
	trial := make([]float64, f.Len())
	vm := snap.Variance
	objective := func(x []float64) float64 {
		cont := p.model(trial, x[0], x[1])
		var chi2, logDet float64
		for i, c := range cont {
			w := cf.weight(vm, f.Wave[i], f.Ivar[i], c)
			if w == 0 {
				continue
			}
			d := f.Flux[i] - c
			chi2 += w * d * d
			if cf.objective == ObjectiveLikelihood {
				logDet -= math.Log(w)
			}
		}
		return chi2 + logDet
	}

	step := math.Abs(zeroPoint) / 2
	params := []minimize.Param{
		minimize.Free("zero_point", zeroPoint, step),
		minimize.Free("slope", 0, step),
	}
	if cf.order == 0 {
		params[1] = params[1].Fix()
	}

	fit, err := minimize.Minimize(objective, params, cf.settings)
	res.Evaluations = fit.Evaluations
	if err != nil || !fit.Converged {
		f.RejectContinuum(forest.ReasonNotConverged)
		res.Reason = forest.ReasonNotConverged
		return res
	}

	cont := p.model(nil, fit.Values[0], fit.Values[1])
	for _, c := range cont {
		if !(c > 0) || math.IsInf(c, 0) {
			f.RejectContinuum(forest.ReasonNegativeContinuum)
			res.Reason = forest.ReasonNegativeContinuum
			return res
		}
	}
	f.SetContinuum(cont)
	res.Params = FitParams{ZeroPoint: fit.Values[0], Slope: fit.Values[1]}
	return res
}
