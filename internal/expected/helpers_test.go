package expected

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
)

func testGrids(t *testing.T) *grid.Grids {
	t.Helper()
	g, err := grid.New(grid.Spec{
		Solution: grid.Log,
		ObsMin:   3600, ObsMax: 5500, ObsStep: 5e-4,
		RestMin: 1040, RestMax: 1200, RestStep: 1e-3,
	})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

// restNorm is the normalised rest-frame position used by the continuum model.
func restNorm(g *grid.Grids, xr float64) float64 {
	rest := g.Rest()
	return (xr - rest.First()) / (rest.Last() - rest.First())
}

// newForest puts a forest at redshift z on every observed node inside the
// rest-frame range. flux is a function of the normalised rest position.
func newForest(g *grid.Grids, id int64, z float64, flux func(xn float64) float64, ivar float64) *forest.Forest {
	obs := g.Observed()
	rest := g.Rest()
	lo := rest.First() - rest.Step()/2
	hi := rest.Last() + rest.Step()/2
	f := &forest.Forest{LosID: id, Z: z}
	for i := 0; i < obs.Len(); i++ {
		x := obs.At(i)
		xr := g.ToRest(x, z)
		if xr < lo || xr >= hi {
			continue
		}
		f.Wave = append(f.Wave, x)
		f.Flux = append(f.Flux, flux(restNorm(g, xr)))
		f.Ivar = append(f.Ivar, ivar)
	}
	return f
}

func constant(v float64) func(float64) float64 {
	return func(float64) float64 { return v }
}

func noisy(rng *rand.Rand, mean, sigma float64) func(float64) float64 {
	return func(float64) float64 { return mean + sigma*rng.NormFloat64() }
}

func initialSnapshot(t *testing.T, g *grid.Grids, opts Options) *Snapshot {
	t.Helper()
	e, err := New(g, opts, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e.Snapshot()
}

// memWriter records every saved iteration.
type memWriter struct {
	mu         sync.Mutex
	iterations []int
	diags      map[int]Diagnostics
}

func (w *memWriter) SaveIteration(_ context.Context, iteration int, d Diagnostics) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.diags == nil {
		w.diags = make(map[int]Diagnostics)
	}
	w.iterations = append(w.iterations, iteration)
	w.diags[iteration] = d
	return nil
}
