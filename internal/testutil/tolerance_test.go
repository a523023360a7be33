package testutil

import (
	"math"
	"testing"
)

func TestRequireHelpersPass(t *testing.T) {
	RequireNear(t, "x", 1.0005, 1, 1e-3)
	RequireSliceNear(t, []float64{1, 2}, []float64{1, 2.0001}, 1e-3)
	RequireFinite(t, []float64{0, -1, 1e300})
}

func TestLinspace(t *testing.T) {
	got := Linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-15 {
			t.Errorf("Linspace[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := Linspace(3, 7, 1); len(got) != 1 || got[0] != 3 {
		t.Errorf("Linspace(3, 7, 1) = %v, want [3]", got)
	}
}
