package expected

import (
	"math"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/interp"
)

// MeanContinuum is the ensemble continuum shape on the rest-frame grid and
// the statistical weight backing each of its samples.
type MeanContinuum struct {
	shape  *interp.Linear
	weight *interp.Linear
}

// NewMeanContinuum builds the functions from samples. The shape extrapolates
// flat and is 1 when empty; the weight is 0 outside its support.
func NewMeanContinuum(xs, shape, weight []float64) (MeanContinuum, error) {
	s, err := interp.NewLinear(xs, shape, interp.EmptyValue(1))
	if err != nil {
		return MeanContinuum{}, err
	}
	w, err := interp.NewLinear(xs, weight, interp.OutsideValue(0))
	if err != nil {
		return MeanContinuum{}, err
	}
	return MeanContinuum{shape: s, weight: w}, nil
}

// flatMeanContinuum is the starting point: shape 1 and no weight anywhere.
func flatMeanContinuum(rest grid.Axis) MeanContinuum {
	xs := rest.Values()
	ones := make([]float64, len(xs))
	for i := range ones {
		ones[i] = 1
	}
	mc, _ := NewMeanContinuum(xs, ones, make([]float64, len(xs)))
	return mc
}

func (m MeanContinuum) Shape(x float64) float64 { return m.shape.At(x) }

func (m MeanContinuum) Weight(x float64) float64 { return m.weight.At(x) }

// VarianceModel holds eta, var_lss and fudge as nearest-neighbour functions
// of the observed wavelength, with their per-bin bookkeeping.
type VarianceModel struct {
	eta       *interp.Nearest
	varLSS    *interp.Nearest
	fudge     *interp.Nearest
	numPixels *interp.Nearest
	validFit  *interp.Nearest
}

// NewVarianceModel builds the model from per-bin values on xs.
func NewVarianceModel(xs, eta, varLSS, fudge, numPixels, validFit []float64) (VarianceModel, error) {
	var vm VarianceModel
	var err error
	if vm.eta, err = interp.NewNearest(xs, eta); err != nil {
		return VarianceModel{}, err
	}
	if vm.varLSS, err = interp.NewNearest(xs, varLSS); err != nil {
		return VarianceModel{}, err
	}
	if vm.fudge, err = interp.NewNearest(xs, fudge); err != nil {
		return VarianceModel{}, err
	}
	if vm.numPixels, err = interp.NewNearest(xs, numPixels); err != nil {
		return VarianceModel{}, err
	}
	if vm.validFit, err = interp.NewNearest(xs, validFit); err != nil {
		return VarianceModel{}, err
	}
	return vm, nil
}

func (v VarianceModel) Eta(x float64) float64 { return v.eta.At(x) }

func (v VarianceModel) VarLSS(x float64) float64 { return v.varLSS.At(x) }

func (v VarianceModel) Fudge(x float64) float64 { return v.fudge.At(x) }

func (v VarianceModel) NumPixels(x float64) float64 { return v.numPixels.At(x) }

func (v VarianceModel) ValidFit(x float64) bool { return v.validFit.At(x) != 0 }

// Variance returns eta*var_pipe + var_lss + fudge/var_pipe for a pixel with
// inverse variance ivar and expected flux c. Pixels without a usable
// pipeline variance get +Inf, i.e. zero weight.
func (v VarianceModel) Variance(x, ivar, c float64) float64 {
	if !(ivar > 0) {
		return math.Inf(1)
	}
	varPipe := 1 / (ivar * c * c)
	if math.IsInf(varPipe, 0) {
		return math.Inf(1)
	}
	variance := v.eta.At(x)*varPipe + v.varLSS.At(x) + v.fudge.At(x)/varPipe
	if !(variance > 0) {
		return math.Inf(1)
	}
	return variance
}

// ForestVariance evaluates Variance on every pixel of f using expected flux
// model.
func (v VarianceModel) ForestVariance(f *forest.Forest, model []float64) []float64 {
	out := make([]float64, f.Len())
	for i := range out {
		out[i] = v.Variance(f.Wave[i], f.Ivar[i], model[i])
	}
	return out
}

// ForestWeights returns 1/variance per pixel; unusable pixels get 0.
func (v VarianceModel) ForestWeights(f *forest.Forest, model []float64) []float64 {
	out := v.ForestVariance(f, model)
	for i, variance := range out {
		out[i] = 1 / variance
	}
	return out
}

// DeltaStack is the weighted mean over all forests of the stacked quantity
// as a function of observed wavelength.
type DeltaStack struct {
	stack  *interp.Nearest
	weight *interp.Nearest
}

// NewDeltaStack builds the stack from the non-empty observed pixels xs.
// empty is returned everywhere when xs is empty.
func NewDeltaStack(xs, stack, weight []float64, empty float64) (DeltaStack, error) {
	s, err := interp.NewNearest(xs, stack, interp.EmptyValue(empty))
	if err != nil {
		return DeltaStack{}, err
	}
	w, err := interp.NewNearest(xs, weight, interp.OutsideValue(0))
	if err != nil {
		return DeltaStack{}, err
	}
	return DeltaStack{stack: s, weight: w}, nil
}

func (d DeltaStack) Stack(x float64) float64 { return d.stack.At(x) }

func (d DeltaStack) Weight(x float64) float64 { return d.weight.At(x) }

// Len is the number of observed pixels backing the stack.
func (d DeltaStack) Len() int { return d.stack.Len() }

// Snapshot is the shared, read-only state one iteration hands to the
// continuum fits of the next. It is replaced as a whole, never mutated.
type Snapshot struct {
	MeanCont MeanContinuum
	Variance VarianceModel
	Stack    DeltaStack
}
