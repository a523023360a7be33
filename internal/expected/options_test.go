package expected

import (
	"errors"
	"math"
	"testing"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"zero iterations", func(o *Options) { o.NumIterations = 0 }, true},
		{"zero variance bins", func(o *Options) { o.NumBinsVariance = 0 }, true},
		{"order 2", func(o *Options) { o.Order = 2 }, true},
		{"order 0", func(o *Options) { o.Order = 0 }, false},
		{"inverted eta limits", func(o *Options) { o.LimitEta = Interval{Min: 1.5, Max: 0.5} }, true},
		{"negative var lss limit", func(o *Options) { o.LimitVarLSS = Interval{Min: -0.1, Max: 0.3} }, true},
		{"collapsed var lss limit", func(o *Options) { o.LimitVarLSS = Interval{Min: 0, Max: 0} }, false},
		{"both weight modes", func(o *Options) { o.UseConstantWeight, o.UseIvarAsWeight = true, true }, true},
		{"negative processors", func(o *Options) { o.NumProcessors = -1 }, true},
		{"unknown objective", func(o *Options) { o.Objective = "l1" }, true},
		{"likelihood objective", func(o *Options) { o.Objective = ObjectiveLikelihood }, false},
		{"bad fixed table", func(o *Options) { o.FixEta = Fixed{Set: true, Xs: []float64{1, 2}, Ys: []float64{1}} }, true},
		{"negative fixed eta", func(o *Options) { o.FixEta = FixedValue(-0.5) }, true},
		{"negative entry in fixed eta table", func(o *Options) { o.FixEta = FixedTable([]float64{3.6, 3.7}, []float64{1, -0.1}) }, true},
		{"NaN fixed fudge", func(o *Options) { o.FixFudge = FixedValue(math.NaN()) }, true},
		{"zero fixed fudge", func(o *Options) { o.FixFudge = FixedValue(0) }, false},
		{"fixed fudge with ivar weights", func(o *Options) {
			o.UseIvarAsWeight = true
			o.FixFudge = FixedValue(0)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Validate() error = %v, want wrapping ErrInvalidOptions", err)
			}
		})
	}
}

func TestInterval(t *testing.T) {
	i := Interval{Min: 0.5, Max: 1.5}
	if got := i.Clamp(2); got != 1.5 {
		t.Errorf("Clamp(2) = %v, want 1.5", got)
	}
	if got := i.Clamp(0); got != 0.5 {
		t.Errorf("Clamp(0) = %v, want 0.5", got)
	}
	if got := i.String(); got != "(0.5, 1.5)" {
		t.Errorf("String() = %q", got)
	}
}
