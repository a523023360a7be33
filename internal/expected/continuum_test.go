package expected

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/testutil"
)

func TestFit_AmplitudeOfFlatForest(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	rng := rand.New(rand.NewPCG(1, 2))
	f := newForest(g, 1, 2.6, noisy(rng, 2, 0.02), 1/(0.02*0.02))

	var sumFlux, sumIvar float64
	for i := range f.Flux {
		sumFlux += f.Flux[i] * f.Ivar[i]
		sumIvar += f.Ivar[i]
	}
	want := sumFlux / sumIvar

	res := NewContinuumFitter(g, 1, false, ObjectiveChi2).Fit(f, snap)
	if res.Reason != "" {
		t.Fatalf("Fit rejected: %s", res.Reason)
	}
	testutil.RequireNear(t, "zero point + slope/2", res.Params.ZeroPoint+res.Params.Slope/2, want, 0.005)
	testutil.RequireNear(t, "slope", res.Params.Slope, 0, 0.02)
	if !f.HasContinuum() {
		t.Fatal("forest has no continuum after a successful fit")
	}
	if f.BadContinuumReason != "" {
		t.Errorf("BadContinuumReason = %q, want empty", f.BadContinuumReason)
	}
}

func TestFit_ZeroIvar(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	f := newForest(g, 2, 2.6, constant(1), 0)

	res := NewContinuumFitter(g, 1, false, ObjectiveChi2).Fit(f, snap)
	if res.Reason != forest.ReasonNotConverged {
		t.Errorf("Reason = %q, want %q", res.Reason, forest.ReasonNotConverged)
	}
	if f.HasContinuum() {
		t.Error("forest with zero ivar kept a continuum")
	}
	if !math.IsNaN(res.Params.ZeroPoint) || !math.IsNaN(res.Params.Slope) {
		t.Errorf("Params = %+v, want NaN", res.Params)
	}
}

func TestFit_NegativeContinuum(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	f := newForest(g, 3, 2.6, func(xn float64) float64 { return 1 - 2*xn }, 100)

	res := NewContinuumFitter(g, 1, false, ObjectiveChi2).Fit(f, snap)
	if res.Reason != forest.ReasonNegativeContinuum {
		t.Errorf("Reason = %q, want %q", res.Reason, forest.ReasonNegativeContinuum)
	}
	if f.HasContinuum() {
		t.Error("forest kept a continuum that crosses zero")
	}
}

func TestFit_OrderZeroKeepsSlope(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	f := newForest(g, 4, 2.6, func(xn float64) float64 { return 1 + 0.5*xn }, 100)

	res := NewContinuumFitter(g, 0, false, ObjectiveChi2).Fit(f, snap)
	if res.Reason != "" {
		t.Fatalf("Fit rejected: %s", res.Reason)
	}
	if res.Params.Slope != 0 {
		t.Errorf("Slope = %v, want 0 with order 0", res.Params.Slope)
	}
	for i := 1; i < f.Len(); i++ {
		if f.Continuum[i] != f.Continuum[0] {
			t.Fatalf("order 0 continuum varies: %v vs %v", f.Continuum[i], f.Continuum[0])
		}
	}
}

func TestFit_ConstantWeightIgnoresIvar(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, Options{
		NumIterations: 1, NumBinsVariance: 5, Order: 0,
		LimitEta: DefaultLimitEta, LimitVarLSS: DefaultLimitVarLSS,
		UseConstantWeight: true, NumProcessors: 1,
	})
	f := newForest(g, 5, 2.6, func(xn float64) float64 { return 1 + xn }, 1)
	var mean float64
	for i := range f.Ivar {
		f.Ivar[i] = 1 + 50*float64(i%2)
		mean += f.Flux[i]
	}
	mean /= float64(f.Len())

	res := NewContinuumFitter(g, 0, true, ObjectiveChi2).Fit(f, snap)
	if res.Reason != "" {
		t.Fatalf("Fit rejected: %s", res.Reason)
	}
	testutil.RequireNear(t, "zero point", res.Params.ZeroPoint, mean, 1e-4)
}

func TestFit_LikelihoodObjective(t *testing.T) {
	g := testGrids(t)
	opts := DefaultOptions()
	opts.UseIvarAsWeight = true
	snap := initialSnapshot(t, g, opts)
	rng := rand.New(rand.NewPCG(3, 4))
	f := newForest(g, 6, 2.8, noisy(rng, 1.5, 0.05), 400)

	// With var_lss = 0 the weights do not depend on the continuum, so the
	// log term is constant and the optimum is the weighted mean.
	res := NewContinuumFitter(g, 1, false, ObjectiveLikelihood).Fit(f, snap)
	if res.Reason != "" {
		t.Fatalf("Fit rejected: %s", res.Reason)
	}
	for i, c := range f.Continuum {
		if !(c > 0) {
			t.Fatalf("continuum[%d] = %v, want > 0", i, c)
		}
	}
	testutil.RequireNear(t, "zero point + slope/2", res.Params.ZeroPoint+res.Params.Slope/2, 1.5, 0.01)
}

func TestFit_LikelihoodOptimumWithIntrinsicVariance(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	rng := rand.New(rand.NewPCG(5, 6))
	const ivar = 400
	f := newForest(g, 7, 2.8, noisy(rng, 1.5, 0.05), ivar)

	// The initial model has eta = 1 and var_lss = 0.2, so a flat continuum c
	// minimizes sum (f-c)^2/v + ln v with v = 1/ivar + 0.2 c^2.
	objective := func(c float64) float64 {
		v := 1/ivar + 0.2*c*c
		var sum float64
		for _, fl := range f.Flux {
			d := fl - c
			sum += d*d/v + math.Log(v)
		}
		return sum
	}
	want, best := 0.0, math.Inf(1)
	for c := 1.0; c <= 2.0; c += 1e-5 {
		if v := objective(c); v < best {
			want, best = c, v
		}
	}

	res := NewContinuumFitter(g, 0, false, ObjectiveLikelihood).Fit(f, snap)
	if res.Reason != "" {
		t.Fatalf("Fit rejected: %s", res.Reason)
	}
	testutil.RequireNear(t, "zero point", res.Params.ZeroPoint, want, 1e-3)
	if math.Abs(res.Params.ZeroPoint-1.5) < 0.1 {
		t.Errorf("zero point = %v, want the intrinsic variance to pull it well below 1.5", res.Params.ZeroPoint)
	}
}

func TestWeight_NeverNegative(t *testing.T) {
	g := testGrids(t)
	xs := g.VarianceGrid(3).Values()
	fill := func(v float64) []float64 { return []float64{v, v, v} }
	tests := []struct {
		name               string
		eta, varLSS, fudge float64
		ivar, c            float64
		want               float64
	}{
		{"pipeline only", 1, 0, 0, 4, 1, 4},
		{"with intrinsic variance", 1, 0.25, 0, 4, 2, 1.0 / (0.25 + 0.25*4)},
		{"negative eta", -0.5, 0, 0, 1, 1, 0},
		{"negative total", 1, -2, 0, 1, 1, 0},
		{"zero ivar", 1, 0.1, 0, 0, 1, 0},
		{"zero continuum", 1, 0.1, 0, 4, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, err := NewVarianceModel(xs, fill(tt.eta), fill(tt.varLSS), fill(tt.fudge), fill(0), fill(1))
			if err != nil {
				t.Fatalf("NewVarianceModel: %v", err)
			}
			cf := NewContinuumFitter(g, 1, false, ObjectiveChi2)
			got := cf.weight(vm, xs[1], tt.ivar, tt.c)
			testutil.RequireNear(t, "weight", got, tt.want, 1e-12)
		})
	}
}
