package expected

import (
	"context"
	"math"

	"github.com/lox/lyadelta/internal/grid"
)

// FinalIteration is the iteration number of the snapshot saved after the
// last iteration.
const FinalIteration = -1

// StackRow is one observed-frame sample of a delta stack.
type StackRow struct {
	Wave   float64
	Stack  float64
	Weight float64
}

// ContRow is one rest-frame sample of the mean continuum.
type ContRow struct {
	Wave     float64
	MeanCont float64
	Weight   float64
}

// Diagnostics is the per-iteration record of the shared state.
type Diagnostics struct {
	Order int
	// Stack is the flux/continuum stack of the iteration.
	Stack   []StackRow
	VarFunc []VarianceBin
	Cont    []ContRow
	// DeltaStack is the residual stack of the extracted deltas, only set on
	// the final snapshot.
	DeltaStack []StackRow
}

// SnapshotWriter persists diagnostics. Implementations must be safe to call
// from the orchestrator goroutine only.
type SnapshotWriter interface {
	SaveIteration(ctx context.Context, iteration int, d Diagnostics) error
}

// NewDiagnostics samples snap on the full grids. bins are the last variance
// fit results and supply the chi2 column; a nil slice means no fit ran.
func NewDiagnostics(g *grid.Grids, order, numBinsVariance int, snap *Snapshot, bins []VarianceBin, residual *DeltaStack) Diagnostics {
	d := Diagnostics{
		Order: order,
		Stack: stackRows(g.Observed(), snap.Stack),
	}

	rest := g.Rest()
	d.Cont = make([]ContRow, rest.Len())
	for i := range d.Cont {
		x := rest.At(i)
		d.Cont[i] = ContRow{Wave: x, MeanCont: snap.MeanCont.Shape(x), Weight: snap.MeanCont.Weight(x)}
	}

	varGrid := g.VarianceGrid(numBinsVariance)
	d.VarFunc = make([]VarianceBin, varGrid.Len())
	for i := range d.VarFunc {
		x := varGrid.At(i)
		chi2 := math.NaN()
		if i < len(bins) {
			chi2 = bins[i].Chi2
		}
		d.VarFunc[i] = VarianceBin{
			Wave:      x,
			Eta:       snap.Variance.Eta(x),
			VarLSS:    snap.Variance.VarLSS(x),
			Fudge:     snap.Variance.Fudge(x),
			NumPixels: int(snap.Variance.NumPixels(x)),
			Valid:     snap.Variance.ValidFit(x),
			Chi2:      chi2,
		}
	}

	if residual != nil {
		d.DeltaStack = stackRows(g.Observed(), *residual)
	}
	return d
}

func stackRows(obs grid.Axis, s DeltaStack) []StackRow {
	rows := make([]StackRow, obs.Len())
	for i := range rows {
		x := obs.At(i)
		rows[i] = StackRow{Wave: x, Stack: s.Stack(x), Weight: s.Weight(x)}
	}
	return rows
}
