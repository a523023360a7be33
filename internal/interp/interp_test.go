package interp

import (
	"math"
	"testing"
)

func TestNearest(t *testing.T) {
	n, err := NewNearest([]float64{1, 2, 4}, []float64{10, 20, 40})
	if err != nil {
		t.Fatalf("NewNearest: %v", err)
	}
	tests := []struct {
		x    float64
		want float64
	}{
		{0, 10},
		{1, 10},
		{1.4, 10},
		{1.6, 20},
		{2.9, 20},
		{3.1, 40},
		{4, 40},
		{9, 40},
	}
	for _, tt := range tests {
		if got := n.At(tt.x); got != tt.want {
			t.Errorf("At(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestNearest_OutsideValue(t *testing.T) {
	n, err := NewNearest([]float64{1, 2}, []float64{5, 6}, OutsideValue(0))
	if err != nil {
		t.Fatalf("NewNearest: %v", err)
	}
	if got := n.At(0.5); got != 0 {
		t.Errorf("At(0.5) = %v, want 0", got)
	}
	if got := n.At(2); got != 6 {
		t.Errorf("At(2) = %v, want 6", got)
	}
}

func TestEmpty(t *testing.T) {
	n, err := NewNearest(nil, nil, EmptyValue(1))
	if err != nil {
		t.Fatalf("NewNearest: %v", err)
	}
	if got := n.At(3); got != 1 {
		t.Errorf("empty Nearest.At = %v, want 1", got)
	}
	l, err := NewLinear(nil, nil)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	if got := l.At(3); got != 0 {
		t.Errorf("empty Linear.At = %v, want 0", got)
	}
}

func TestLinear(t *testing.T) {
	l, err := NewLinear([]float64{0, 1, 3}, []float64{0, 2, 4})
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	tests := []struct {
		x    float64
		want float64
	}{
		{-1, 0},
		{0.5, 1},
		{2, 3},
		{3, 4},
		{10, 4},
	}
	for _, tt := range tests {
		if got := l.At(tt.x); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("At(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}

	single, err := NewLinear([]float64{2}, []float64{7})
	if err != nil {
		t.Fatalf("NewLinear single: %v", err)
	}
	if got := single.At(-5); got != 7 {
		t.Errorf("single-sample At = %v, want 7", got)
	}
}

func TestNotIncreasing(t *testing.T) {
	if _, err := NewNearest([]float64{1, 1}, []float64{0, 0}); err == nil {
		t.Error("NewNearest accepted repeated coordinates")
	}
	if _, err := NewLinear([]float64{1, 2}, []float64{0}); err == nil {
		t.Error("NewLinear accepted mismatched lengths")
	}
}

func TestSelect(t *testing.T) {
	xs, ys := Select([]float64{1, 2, 3}, []float64{4, 5, 6}, []bool{true, false, true})
	if len(xs) != 2 || xs[1] != 3 || ys[1] != 6 {
		t.Errorf("Select = %v %v", xs, ys)
	}
}
