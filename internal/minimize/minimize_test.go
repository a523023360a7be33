package minimize

import (
	"math"
	"testing"
)

func TestMinimize_Unbounded(t *testing.T) {
	f := func(x []float64) float64 {
		return (x[0]-3)*(x[0]-3) + 10*(x[1]+1)*(x[1]+1)
	}
	params := []Param{Free("a", 0, 1), Free("b", 0, 1)}
	res, err := Minimize(f, params, DefaultSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !res.Converged {
		t.Fatalf("Minimize did not converge: status %v", res.Status)
	}
	if math.Abs(res.Value(params, "a")-3) > 1e-4 {
		t.Errorf("a = %v, want 3", res.Value(params, "a"))
	}
	if math.Abs(res.Value(params, "b")+1) > 1e-4 {
		t.Errorf("b = %v, want -1", res.Value(params, "b"))
	}
}

func TestMinimize_BoundActive(t *testing.T) {
	// Unconstrained minimum at 2 lies above the upper bound.
	f := func(x []float64) float64 { return (x[0] - 2) * (x[0] - 2) }
	params := []Param{Bounded("eta", 1, 0.05, 0.5, 1.5)}
	res, err := Minimize(f, params, DefaultSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	got := res.Values[0]
	if got > 1.5 || got < 1.49 {
		t.Errorf("eta = %v, want pinned near upper bound 1.5", got)
	}
}

func TestMinimize_LowerBound(t *testing.T) {
	f := func(x []float64) float64 { return (x[0] + 1) * (x[0] + 1) }
	params := []Param{Bounded("fudge", 1, 0.05, 0, math.Inf(1))}
	res, err := Minimize(f, params, DefaultSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if res.Values[0] < 0 || res.Values[0] > 1e-3 {
		t.Errorf("fudge = %v, want close to the lower bound 0", res.Values[0])
	}
}

func TestMinimize_Fixed(t *testing.T) {
	calls := 0
	f := func(x []float64) float64 {
		calls++
		if x[1] != 0.25 {
			t.Fatalf("fixed parameter moved to %v", x[1])
		}
		return (x[0] - 1) * (x[0] - 1)
	}
	params := []Param{Free("a", 0, 1), Free("b", 0.25, 1).Fix()}
	res, err := Minimize(f, params, DefaultSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if math.Abs(res.Values[0]-1) > 1e-4 {
		t.Errorf("a = %v, want 1", res.Values[0])
	}
	if calls == 0 {
		t.Error("objective never evaluated")
	}
}

func TestMinimize_AllFixed(t *testing.T) {
	f := func(x []float64) float64 { return x[0] + x[1] }
	res, err := Minimize(f, []Param{Free("a", 1, 1).Fix(), Free("b", 2, 1).Fix()}, DefaultSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !res.Converged || res.F != 3 {
		t.Errorf("all-fixed result = %+v, want converged with F=3", res)
	}
}

func TestMinimize_InvalidStart(t *testing.T) {
	f := func(x []float64) float64 { return x[0] }
	if _, err := Minimize(f, []Param{Bounded("eta", 2, 0.1, 0.5, 1.5)}, DefaultSettings()); err == nil {
		t.Error("Minimize accepted a start outside the bounds")
	}
}

func TestMinimize_NaNObjective(t *testing.T) {
	f := func(x []float64) float64 { return math.NaN() }
	res, err := Minimize(f, []Param{Free("a", 0, 1)}, Settings{MaxEvaluations: 200, Tolerance: 1e-10, StallIterations: 20})
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if res.Converged && !math.IsInf(res.F, 1) {
		t.Errorf("NaN objective reported a finite converged minimum: %+v", res)
	}
}

func TestTransformRoundTrip(t *testing.T) {
	params := []Param{
		Free("free", 3, 1),
		Bounded("both", 0.1, 0.05, 0, 0.3),
		Bounded("lower", 1, 0.05, 0, math.Inf(1)),
		Bounded("upper", -2, 0.5, math.Inf(-1), 4),
	}
	for i, p := range params {
		tr := newTransform(i, p)
		if got := tr.toExternal(0); math.Abs(got-p.Start) > 1e-12 {
			t.Errorf("%s: toExternal(0) = %v, want start %v", p.Name, got, p.Start)
		}
		for _, u := range []float64{-50, -1, 0.3, 7, 1e3} {
			x := tr.toExternal(u)
			if x < p.Lower || x > p.Upper {
				t.Errorf("%s: toExternal(%v) = %v escapes [%v, %v]", p.Name, u, x, p.Lower, p.Upper)
			}
		}
	}
}

func TestMinimize_CollapsedBoundsHeldFixed(t *testing.T) {
	f := func(x []float64) float64 { return (x[0]-1)*(x[0]-1) + (x[1]-4)*(x[1]-4) }
	params := []Param{Bounded("var_lss", 0, 0.01, 0, 0), Free("b", 0, 1)}
	res, err := Minimize(f, params, DefaultSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if res.Values[0] != 0 {
		t.Errorf("var_lss = %v, want 0", res.Values[0])
	}
	if math.Abs(res.Values[1]-4) > 1e-4 {
		t.Errorf("b = %v, want 4", res.Values[1])
	}
}
