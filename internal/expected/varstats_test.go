package expected

import (
	"math"
	"testing"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/ingest"
)

func TestVarPipeBin(t *testing.T) {
	tests := []struct {
		vp   float64
		want int
	}{
		{1e-5, -1},
		{2, -1},
		{math.Nextafter(2, 3), -1},
		{0, -1},
		{math.Inf(1), -1},
		{1e-3, 37},
		{1.999, 99},
		{1.01e-5, 0},
	}
	for _, tt := range tests {
		if got := varPipeBin(tt.vp); got != tt.want {
			t.Errorf("varPipeBin(%v) = %d, want %d", tt.vp, got, tt.want)
		}
	}
}

func TestVarPipeCentres(t *testing.T) {
	vp := varPipeCentres()
	if len(vp) != numVarPipeBins {
		t.Fatalf("len = %d, want %d", len(vp), numVarPipeBins)
	}
	for k, v := range vp {
		if got := varPipeBin(v); got != k {
			t.Errorf("centre %d (%v) falls in bin %d", k, v, got)
		}
	}
}

func TestComputeVarianceStats(t *testing.T) {
	g := testGrids(t)
	varGrid := g.VarianceGrid(1)

	// delta alternates +-0.1 around a unit continuum, var_pipe = 0.01.
	mk := func(id int64) *forest.Forest {
		f := newForest(g, id, 2.6, constant(1), 100)
		for i := range f.Flux {
			f.Flux[i] = 1 + 0.1*float64(1-2*(i%2))
		}
		return withContinuum(f, 1)
	}
	a, b := mk(1), mk(2)
	if a.Len()%2 != 0 {
		a.Flux, a.Wave, a.Ivar, a.Continuum = a.Flux[1:], a.Wave[1:], a.Ivar[1:], a.Continuum[1:]
		b.Flux, b.Wave, b.Ivar, b.Continuum = b.Flux[1:], b.Wave[1:], b.Ivar[1:], b.Continuum[1:]
	}
	rejected := newForest(g, 3, 2.6, constant(1), 100)

	stats := computeVarianceStats(varGrid, []*forest.Forest{a, b, rejected})
	cell := stats[0][varPipeBin(0.01)]
	if cell.numForests != 2 {
		t.Errorf("numForests = %d, want 2", cell.numForests)
	}
	if cell.numPixels != a.Len()+b.Len() {
		t.Errorf("numPixels = %d, want %d", cell.numPixels, a.Len()+b.Len())
	}
	if math.Abs(cell.meanDelta) > 1e-12 {
		t.Errorf("meanDelta = %v, want 0", cell.meanDelta)
	}
	if math.Abs(cell.varDelta-0.01) > 1e-12 {
		t.Errorf("varDelta = %v, want 0.01", cell.varDelta)
	}
	// E[d^4] - var^2 vanishes for a two-point distribution.
	if math.Abs(cell.var2Delta) > 1e-15 {
		t.Errorf("var2Delta = %v, want 0", cell.var2Delta)
	}
}

func smallSampleOptions() Options {
	opts := DefaultOptions()
	opts.NumBinsVariance = 5
	opts.MinForestsPerCell = 3
	return opts
}

// syntheticPixels returns forests whose continuum is set to the generating
// one, so the variance statistics see the injected noise only.
func syntheticPixels(t *testing.T, n int) []*forest.Forest {
	t.Helper()
	g := testGrids(t)
	cfg := ingest.DefaultSimulateConfig()
	cfg.NumForests = n
	cfg.Seed = 42
	cfg.VarPipeMin, cfg.VarPipeMax = 0.01, 0.3
	cfg.MeanTransmission = false
	forests, truth, err := ingest.Simulate(g, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for _, f := range forests {
		f.SetContinuum(truth[f.LosID].Continuum)
	}
	return forests
}

func TestFitVarianceFunctions_RecoversInjectedNoise(t *testing.T) {
	g := testGrids(t)
	opts := smallSampleOptions()
	snap := initialSnapshot(t, g, opts)
	forests := syntheticPixels(t, 800)

	vm, bins, err := FitVarianceFunctions(g, forests, snap, opts, nil)
	if err != nil {
		t.Fatalf("FitVarianceFunctions: %v", err)
	}
	if len(bins) != opts.NumBinsVariance {
		t.Fatalf("len(bins) = %d, want %d", len(bins), opts.NumBinsVariance)
	}

	var checked int
	for _, b := range bins {
		if b.NumPixels <= 5000 {
			continue
		}
		checked++
		if !b.Valid {
			t.Errorf("bin at %v with %d pixels is not valid", b.Wave, b.NumPixels)
			continue
		}
		if math.Abs(b.Eta-1.2) > 0.1 {
			t.Errorf("eta at %v = %v, want 1.2 +- 0.1", b.Wave, b.Eta)
		}
		if math.Abs(b.VarLSS-0.05) > 0.02 {
			t.Errorf("var_lss at %v = %v, want 0.05 +- 0.02", b.Wave, b.VarLSS)
		}
		if b.Fudge < 0 {
			t.Errorf("fudge at %v = %v, want >= 0", b.Wave, b.Fudge)
		}
		if math.IsNaN(b.Chi2) {
			t.Errorf("chi2 at %v is NaN for a valid fit", b.Wave)
		}
		if !within(opts.LimitEta, b.Eta) || !within(opts.LimitVarLSS, b.VarLSS) {
			t.Errorf("bin at %v outside limits: eta %v, var_lss %v", b.Wave, b.Eta, b.VarLSS)
		}
		if got := vm.Eta(b.Wave); got != b.Eta {
			t.Errorf("model eta at %v = %v, want %v", b.Wave, got, b.Eta)
		}
	}
	if checked < 3 {
		t.Errorf("only %d well-populated bins, want at least 3", checked)
	}
}

func TestFitVarianceFunctions_Fallback(t *testing.T) {
	g := testGrids(t)
	opts := smallSampleOptions()
	opts.MinForestsPerCell = 1 << 20
	snap := initialSnapshot(t, g, opts)

	_, bins, err := FitVarianceFunctions(g, syntheticPixels(t, 50), snap, opts, nil)
	if err != nil {
		t.Fatalf("FitVarianceFunctions: %v", err)
	}
	var populated int
	for _, b := range bins {
		if b.Valid {
			t.Errorf("bin at %v valid without qualifying cells", b.Wave)
		}
		if b.Eta != 1 || b.VarLSS != 0.1 || b.Fudge != FudgeRef {
			t.Errorf("bin at %v = (%v, %v, %v), want fallback (1, 0.1, %v)", b.Wave, b.Eta, b.VarLSS, b.Fudge, FudgeRef)
		}
		if !math.IsNaN(b.Chi2) {
			t.Errorf("chi2 at %v = %v, want NaN", b.Wave, b.Chi2)
		}
		if b.NumPixels > 0 {
			populated++
		}
	}
	if populated == 0 {
		t.Error("no bin recorded pixels")
	}
}

func TestFitVarianceFunctions_FixedEta(t *testing.T) {
	g := testGrids(t)
	opts := smallSampleOptions()
	opts.FixEta = FixedValue(1.1)
	snap := initialSnapshot(t, g, opts)

	_, bins, err := FitVarianceFunctions(g, syntheticPixels(t, 300), snap, opts, nil)
	if err != nil {
		t.Fatalf("FitVarianceFunctions: %v", err)
	}
	for _, b := range bins {
		if b.Eta != 1.1 {
			t.Errorf("eta at %v = %v, want fixed 1.1", b.Wave, b.Eta)
		}
	}
}

func TestFitVarianceFunctions_NoPixelsKeepsModel(t *testing.T) {
	g := testGrids(t)
	opts := smallSampleOptions()
	snap := initialSnapshot(t, g, opts)
	f := newForest(g, 1, 2.5, constant(1), 10)
	f.RejectContinuum(forest.ReasonNotConverged)

	vm, _, err := FitVarianceFunctions(g, []*forest.Forest{f}, snap, opts, nil)
	if err != nil {
		t.Fatalf("FitVarianceFunctions: %v", err)
	}
	if vm != snap.Variance {
		t.Error("variance model changed without any pixels")
	}
}

func within(i Interval, v float64) bool { return v >= i.Min && v <= i.Max }
