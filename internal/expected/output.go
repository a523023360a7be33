package expected

import (
	"github.com/cwbudde/algo-vecmath"

	"github.com/lox/lyadelta/internal/forest"
)

// Output is the per-object product of the pipeline.
type Output struct {
	MeanExpectedFlux []float64
	Weights          []float64
	Continuum        []float64
	// Ivar is the adjusted inverse variance, nil unless the forest carries
	// exposure differences.
	Ivar []float64
}

// Finalize computes the outputs of every forest with a valid continuum
// against the final snapshot. Forests without a continuum get no entry.
func Finalize(forests []*forest.Forest, snap *Snapshot) map[int64]Output {
	out := make(map[int64]Output, len(forests))
	for _, f := range forests {
		if !f.HasContinuum() {
			continue
		}
		stack := make([]float64, f.Len())
		for i, x := range f.Wave {
			stack[i] = snap.Stack.Stack(x)
		}
		mef := make([]float64, f.Len())
		vecmath.MulBlock(mef, f.Continuum, stack)

		o := Output{
			MeanExpectedFlux: mef,
			Weights:          snap.Variance.ForestWeights(f, mef),
			Continuum:        append([]float64(nil), f.Continuum...),
		}
		if f.HasExposuresDiff() {
			o.Ivar = make([]float64, f.Len())
			for i, x := range f.Wave {
				eta := snap.Variance.Eta(x)
				if eta == 0 {
					eta = 1
				}
				o.Ivar[i] = f.Ivar[i] / eta * mef[i] * mef[i]
			}
		}
		out[f.LosID] = o
	}
	return out
}

// ExtractDeltas sets Delta = flux/mean_expected_flux - 1 and the final
// weights on every forest that has an output, and clears them elsewhere.
func ExtractDeltas(forests []*forest.Forest, outputs map[int64]Output) {
	for _, f := range forests {
		o, ok := outputs[f.LosID]
		if !ok {
			f.Delta, f.Weights, f.AdjustedIvar = nil, nil, nil
			continue
		}
		f.Delta = make([]float64, f.Len())
		for i := range f.Delta {
			// Weights is already 0 where the expected flux vanishes.
			if o.MeanExpectedFlux[i] == 0 {
				continue
			}
			f.Delta[i] = f.Flux[i]/o.MeanExpectedFlux[i] - 1
		}
		f.Weights = o.Weights
		f.AdjustedIvar = o.Ivar
	}
}
