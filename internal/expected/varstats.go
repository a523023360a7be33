package expected

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/interp"
	"github.com/lox/lyadelta/internal/minimize"
)

// FudgeRef is the unit in which the fudge term is fitted.
const FudgeRef = 1e-7

// Pipeline variance binning of the variance statistics. The bounds go
// through math.Log10 so that varPipeBin compares like with like.
const numVarPipeBins = 100

var (
	logVarPipeMin = math.Log10(1e-5)
	logVarPipeMax = math.Log10(2)
)

// Starting points and fallbacks of the per-bin variance fit.
const (
	startEta    = 1.0
	startVarLSS = 0.1
	startFudge  = 1.0 // in units of FudgeRef
)

// VarianceBin is the outcome of the variance fit in one observed-frame bin.
type VarianceBin struct {
	Wave      float64
	Eta       float64
	VarLSS    float64
	Fudge     float64
	NumPixels int
	Valid     bool
	// Chi2 is the residual at the best fit, NaN when the fit did not run.
	Chi2 float64
}

// varianceCell accumulates delta moments for one (wavelength, var_pipe) cell.
type varianceCell struct {
	sum1, sum2, sum4 float64
	numPixels        int
	numForests       int
	lastForest       int
}

// cellStats are the reduced moments of a cell.
type cellStats struct {
	meanDelta  float64
	varDelta   float64
	var2Delta  float64
	numPixels  int
	numForests int
}

func (c *varianceCell) stats() cellStats {
	s := cellStats{numPixels: c.numPixels, numForests: c.numForests}
	if c.numPixels == 0 {
		return s
	}
	n := float64(c.numPixels)
	s.meanDelta = c.sum1 / n
	s.varDelta = c.sum2/n - s.meanDelta*s.meanDelta
	s.var2Delta = (c.sum4/n - s.varDelta*s.varDelta) / n
	return s
}

// varPipeBin returns the pipeline-variance bin of vp, or -1 outside the range.
func varPipeBin(vp float64) int {
	lv := math.Log10(vp)
	if !(lv > logVarPipeMin && lv < logVarPipeMax) {
		return -1
	}
	bin := int(math.Floor((lv - logVarPipeMin) / (logVarPipeMax - logVarPipeMin) * numVarPipeBins))
	if bin >= numVarPipeBins {
		bin = numVarPipeBins - 1
	}
	return bin
}

// varPipeCentres are the pipeline variances the model is evaluated at.
func varPipeCentres() []float64 {
	out := make([]float64, numVarPipeBins)
	width := (logVarPipeMax - logVarPipeMin) / numVarPipeBins
	for k := range out {
		out[k] = math.Pow(10, logVarPipeMin+(float64(k)+0.5)*width)
	}
	return out
}

// computeVarianceStats builds the cross-binned moment table, indexed by
// wavelength bin then var_pipe bin.
func computeVarianceStats(varGrid grid.Axis, forests []*forest.Forest) [][]cellStats {
	cells := make([][]varianceCell, varGrid.Len())
	for i := range cells {
		cells[i] = make([]varianceCell, numVarPipeBins)
		for k := range cells[i] {
			cells[i][k].lastForest = -1
		}
	}
	for fi, f := range forests {
		if !f.HasContinuum() {
			continue
		}
		for p := range f.Flux {
			if !(f.Ivar[p] > 0) {
				continue
			}
			c := f.Continuum[p]
			vb := varPipeBin(1 / (f.Ivar[p] * c * c))
			if vb < 0 {
				continue
			}
			cell := &cells[varGrid.Nearest(f.Wave[p])][vb]
			d := f.Flux[p]/c - 1
			d2 := d * d
			cell.sum1 += d
			cell.sum2 += d2
			cell.sum4 += d2 * d2
			cell.numPixels++
			if cell.lastForest != fi {
				cell.lastForest = fi
				cell.numForests++
			}
		}
	}
	out := make([][]cellStats, len(cells))
	for i := range cells {
		out[i] = make([]cellStats, numVarPipeBins)
		for k := range cells[i] {
			out[i][k] = cells[i][k].stats()
		}
	}
	return out
}

// fixedAt evaluates a pinned variance function at x.
func fixedAt(f Fixed, x float64) float64 {
	if len(f.Xs) == 0 {
		return f.Value
	}
	n, err := interp.NewNearest(f.Xs, f.Ys)
	if err != nil {
		return f.Value
	}
	return n.At(x)
}

// varianceFitter fits eta, var_lss and fudge in every variance bin.
type varianceFitter struct {
	opts     Options
	settings minimize.Settings
	vp       []float64
}

func (vf *varianceFitter) params(x float64) []minimize.Param {
	eta := minimize.Bounded("eta", vf.opts.LimitEta.Clamp(startEta), 0.1, vf.opts.LimitEta.Min, vf.opts.LimitEta.Max)
	varLSS := minimize.Bounded("var_lss", vf.opts.LimitVarLSS.Clamp(startVarLSS), 0.01, vf.opts.LimitVarLSS.Min, vf.opts.LimitVarLSS.Max)
	fudge := minimize.Bounded("fudge", startFudge, 0.1, 0, math.Inf(1))
	if vf.opts.FixEta.Set {
		eta = minimize.Free("eta", fixedAt(vf.opts.FixEta, x), 0).Fix()
	}
	if vf.opts.FixFudge.Set {
		fudge = minimize.Free("fudge", fixedAt(vf.opts.FixFudge, x)/FudgeRef, 0).Fix()
	}
	return []minimize.Param{eta, varLSS, fudge}
}

// fitBin runs the fit for one wavelength bin.
func (vf *varianceFitter) fitBin(x float64, cells []cellStats) VarianceBin {
	bin := VarianceBin{Wave: x, Chi2: math.NaN()}
	var qualifying int
	for _, c := range cells {
		bin.NumPixels += c.numPixels
		if c.numForests > vf.opts.MinForestsPerCell && c.var2Delta > 0 {
			qualifying++
		}
	}

	params := vf.params(x)
	fallback := func() VarianceBin {
		bin.Eta, bin.VarLSS, bin.Fudge = startEta, startVarLSS, FudgeRef
		if params[0].Fixed {
			bin.Eta = params[0].Start
		}
		if params[2].Fixed {
			bin.Fudge = params[2].Start * FudgeRef
		}
		bin.Valid = false
		return bin
	}
	if qualifying == 0 {
		return fallback()
	}

	chi2 := func(p []float64) float64 {
		var sum float64
		for k, c := range cells {
			if c.numForests <= vf.opts.MinForestsPerCell || !(c.var2Delta > 0) {
				continue
			}
			model := p[0]*vf.vp[k] + p[1] + p[2]*FudgeRef/vf.vp[k]
			r := c.varDelta - model
			sum += r * r / c.var2Delta
		}
		return sum
	}
	res, err := minimize.Minimize(chi2, params, vf.settings)
	if err != nil || !res.Converged {
		return fallback()
	}
	bin.Eta = res.Value(params, "eta")
	bin.VarLSS = res.Value(params, "var_lss")
	bin.Fudge = res.Value(params, "fudge") * FudgeRef
	bin.Valid = true
	bin.Chi2 = res.F
	return bin
}

// FitVarianceFunctions refits eta, var_lss and fudge on the variance grid
// from the forests' current continua. Bins without pixels are left out of the
// returned model; when no bin has pixels the previous model is kept.
func FitVarianceFunctions(g *grid.Grids, forests []*forest.Forest, snap *Snapshot, opts Options, log *zap.Logger) (VarianceModel, []VarianceBin, error) {
	if log == nil {
		log = zap.NewNop()
	}
	varGrid := g.VarianceGrid(opts.NumBinsVariance)
	stats := computeVarianceStats(varGrid, forests)

	vf := &varianceFitter{opts: opts, settings: minimize.DefaultSettings(), vp: varPipeCentres()}
	bins := make([]VarianceBin, varGrid.Len())
	for i := range bins {
		bins[i] = vf.fitBin(varGrid.At(i), stats[i])
		b := bins[i]
		log.Debug("variance bin",
			zap.Float64("wave", g.Wavelength(b.Wave)),
			zap.Float64("eta", b.Eta),
			zap.Float64("var_lss", b.VarLSS),
			zap.Float64("fudge", b.Fudge),
			zap.Int("num_pixels", b.NumPixels),
			zap.Bool("valid", b.Valid),
			zap.Float64("chi2", b.Chi2))
	}

	var xs, eta, varLSS, fudge, numPixels, valid []float64
	for _, b := range bins {
		if b.NumPixels == 0 {
			continue
		}
		xs = append(xs, b.Wave)
		eta = append(eta, b.Eta)
		varLSS = append(varLSS, b.VarLSS)
		fudge = append(fudge, b.Fudge)
		numPixels = append(numPixels, float64(b.NumPixels))
		valid = append(valid, boolToFloat(b.Valid))
	}
	if len(xs) == 0 {
		log.Warn("no pixels in any variance bin, keeping previous variance functions")
		return snap.Variance, bins, nil
	}
	vm, err := NewVarianceModel(xs, eta, varLSS, fudge, numPixels, valid)
	if err != nil {
		return VarianceModel{}, nil, fmt.Errorf("variance functions: %w", err)
	}
	return vm, bins, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
