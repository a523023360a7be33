package expected

import (
	"fmt"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/interp"
)

// StackSource selects what StackDeltas averages.
type StackSource string

const (
	// FromFlux stacks flux/continuum weighted by the current variance model.
	FromFlux StackSource = "flux"
	// FromDeltas stacks the extracted deltas with their final weights.
	FromDeltas StackSource = "delta"
)

// emptyValue is what a stack with no populated pixel evaluates to.
func (s StackSource) emptyValue() float64 {
	if s == FromDeltas {
		return 0
	}
	return 1
}

// StackDeltas computes the weighted mean of the chosen quantity on the
// observed grid over all forests with a valid continuum. Pixels with zero
// accumulated weight are left out of the returned stack.
func StackDeltas(g *grid.Grids, forests []*forest.Forest, snap *Snapshot, source StackSource) (DeltaStack, error) {
	obs := g.Observed()
	acc := newBinAccumulator(obs.Len())
	for _, f := range forests {
		if !f.HasContinuum() {
			continue
		}
		var values, weights []float64
		switch source {
		case FromFlux:
			values = make([]float64, f.Len())
			for i := range values {
				values[i] = f.Flux[i] / f.Continuum[i]
			}
			weights = snap.Variance.ForestWeights(f, f.Continuum)
		case FromDeltas:
			if f.Delta == nil || f.Weights == nil {
				continue
			}
			values, weights = f.Delta, f.Weights
		default:
			return DeltaStack{}, fmt.Errorf("stack deltas: unknown source %q", source)
		}
		acc.add(obs.FindBins(f.Wave), values, weights, make([]float64, f.Len()))
	}

	mean, keep := acc.mean()
	xs, stack := interp.Select(obs.Values(), mean, keep)
	_, weight := interp.Select(obs.Values(), acc.weight, keep)
	return NewDeltaStack(xs, stack, weight, source.emptyValue())
}
