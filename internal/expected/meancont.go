package expected

import (
	"fmt"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/interp"
)

// binAccumulator sums weighted values into the bins of a fixed axis.
type binAccumulator struct {
	sum    []float64
	weight []float64
}

func newBinAccumulator(n int) *binAccumulator {
	return &binAccumulator{sum: make([]float64, n), weight: make([]float64, n)}
}

// add accumulates values*weights at bins. scratch must be len(values) long.
func (b *binAccumulator) add(bins []int, values, weights, scratch []float64) {
	vecmath.MulBlock(scratch, values, weights)
	for i, bin := range bins {
		if weights[i] == 0 {
			continue
		}
		b.sum[bin] += scratch[i]
		b.weight[bin] += weights[i]
	}
}

// mean returns the weighted mean per bin and the mask of populated bins.
func (b *binAccumulator) mean() ([]float64, []bool) {
	out := make([]float64, len(b.sum))
	keep := make([]bool, len(b.sum))
	for i, w := range b.weight {
		if w > 0 {
			out[i] = b.sum[i] / w
			keep[i] = true
		}
	}
	return out, keep
}

// StackMeanContinuum recomputes the mean continuum from every forest with a
// valid continuum. The stacked ratio flux/continuum multiplies the previous
// shape at the populated rest-frame bins, and the result is rescaled so its
// mean over the rest grid is 1. If no bin is populated the previous mean continuum is kept.
func StackMeanContinuum(g *grid.Grids, forests []*forest.Forest, snap *Snapshot) (MeanContinuum, error) {
	rest := g.Rest()
	acc := newBinAccumulator(rest.Len())
	for _, f := range forests {
		if !f.HasContinuum() {
			continue
		}
		xr := make([]float64, f.Len())
		for i, x := range f.Wave {
			xr[i] = g.ToRest(x, f.Z)
		}
		ratio := make([]float64, f.Len())
		floats.DivTo(ratio, f.Flux, f.Continuum)
		weights := snap.Variance.ForestWeights(f, f.Continuum)
		acc.add(rest.FindBins(xr), ratio, weights, make([]float64, f.Len()))
	}

	ratio, keep := acc.mean()
	centres := rest.Values()
	xs, shape := interp.Select(centres, ratio, keep)
	_, weight := interp.Select(centres, acc.weight, keep)
	for i, x := range xs {
		shape[i] *= snap.MeanCont.Shape(x)
	}
	if len(xs) == 0 {
		return snap.MeanCont, nil
	}

	s, err := interp.NewLinear(xs, shape, interp.EmptyValue(1))
	if err != nil {
		return MeanContinuum{}, fmt.Errorf("mean continuum: %w", err)
	}
	norm := floats.Sum(interp.Eval(s, centres)) / float64(len(centres))
	if !(norm > 0) {
		return MeanContinuum{}, fmt.Errorf("mean continuum: non-positive normalisation %g", norm)
	}
	floats.Scale(1/norm, shape)
	return NewMeanContinuum(xs, shape, weight)
}
