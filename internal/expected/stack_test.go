package expected

import (
	"testing"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/testutil"
)

func TestStackDeltas_FromFlux(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	a := withContinuum(newForest(g, 1, 2.5, constant(1.6), 50), 2)
	b := withContinuum(newForest(g, 2, 2.6, constant(1.6), 50), 2)
	zero := withContinuum(newForest(g, 3, 2.7, constant(5), 0), 2)

	s, err := StackDeltas(g, []*forest.Forest{a, b, zero}, snap, FromFlux)
	if err != nil {
		t.Fatalf("StackDeltas: %v", err)
	}
	for _, x := range a.Wave {
		testutil.RequireNear(t, "stack", s.Stack(x), 0.8, 1e-12)
	}

	xs, ws := s.weight.Samples()
	if len(xs) != s.Len() {
		t.Errorf("weight support %d samples, stack %d", len(xs), s.Len())
	}
	for i, w := range ws {
		if !(w > 0) {
			t.Errorf("weight sample at %v = %v, want > 0", xs[i], w)
		}
	}
	// The zero-ivar forest reaches redder than the others: no support there.
	last := zero.Wave[len(zero.Wave)-1]
	if w := s.Weight(last); w != 0 {
		t.Errorf("Weight(%v) = %v, want 0 outside the weighted pixels", last, w)
	}
}

func TestStackDeltas_FromDeltas(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	f := withContinuum(newForest(g, 1, 2.5, constant(1), 50), 1)
	f.Delta = make([]float64, f.Len())
	f.Weights = make([]float64, f.Len())
	for i := range f.Delta {
		f.Delta[i] = 0.05
		f.Weights[i] = 2
	}

	s, err := StackDeltas(g, []*forest.Forest{f}, snap, FromDeltas)
	if err != nil {
		t.Fatalf("StackDeltas: %v", err)
	}
	testutil.RequireNear(t, "stack", s.Stack(f.Wave[3]), 0.05, 1e-12)
	testutil.RequireNear(t, "weight", s.Weight(f.Wave[3]), 2, 1e-12)
}

func TestStackDeltas_Empty(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	f := newForest(g, 1, 2.5, constant(1), 50)

	tests := []struct {
		source StackSource
		want   float64
	}{
		{FromFlux, 1},
		{FromDeltas, 0},
	}
	for _, tt := range tests {
		s, err := StackDeltas(g, []*forest.Forest{f}, snap, tt.source)
		if err != nil {
			t.Fatalf("StackDeltas(%s): %v", tt.source, err)
		}
		if s.Len() != 0 {
			t.Errorf("StackDeltas(%s).Len() = %d, want 0", tt.source, s.Len())
		}
		if got := s.Stack(f.Wave[0]); got != tt.want {
			t.Errorf("empty %s stack = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestStackDeltas_UnknownSource(t *testing.T) {
	g := testGrids(t)
	snap := initialSnapshot(t, g, DefaultOptions())
	f := withContinuum(newForest(g, 1, 2.5, constant(1), 50), 1)
	if _, err := StackDeltas(g, []*forest.Forest{f}, snap, "ivar"); err == nil {
		t.Error("StackDeltas() error = nil, want error for unknown source")
	}
}
