// Package interp provides the immutable one-dimensional interpolants used for
// the mean continuum, the variance functions and the delta stack.
package interp

import (
	"fmt"
	"sort"

	gonuminterp "gonum.org/v1/gonum/interp"
)

// Func is a read-only function of one wavelength coordinate.
type Func interface {
	At(x float64) float64
}

// Eval samples f at every x.
func Eval(f Func, xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = f.At(x)
	}
	return out
}

type options struct {
	outside    float64
	hasOutside bool
	empty      float64
}

// Option tweaks interpolant behaviour outside its support.
type Option func(*options)

// OutsideValue makes the interpolant return v outside [xs[0], xs[n-1]]
// instead of extrapolating flat.
func OutsideValue(v float64) Option {
	return func(o *options) {
		o.outside = v
		o.hasOutside = true
	}
}

// EmptyValue is returned everywhere when the interpolant has no samples.
func EmptyValue(v float64) Option {
	return func(o *options) { o.empty = v }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkSamples(xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("interp: %d coordinates but %d values", len(xs), len(ys))
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return fmt.Errorf("interp: coordinates not strictly increasing at %d", i)
		}
	}
	return nil
}

// Nearest is a nearest-neighbour interpolant.
type Nearest struct {
	xs, ys []float64
	opts   options
}

// NewNearest copies xs and ys, which must be strictly increasing in xs.
func NewNearest(xs, ys []float64, opts ...Option) (*Nearest, error) {
	if err := checkSamples(xs, ys); err != nil {
		return nil, err
	}
	return &Nearest{
		xs:   append([]float64(nil), xs...),
		ys:   append([]float64(nil), ys...),
		opts: buildOptions(opts),
	}, nil
}

func (n *Nearest) At(x float64) float64 {
	k := len(n.xs)
	if k == 0 {
		return n.opts.empty
	}
	if x < n.xs[0] || x > n.xs[k-1] {
		if n.opts.hasOutside {
			return n.opts.outside
		}
		if x < n.xs[0] {
			return n.ys[0]
		}
		return n.ys[k-1]
	}
	i := sort.SearchFloat64s(n.xs, x)
	if i == k {
		return n.ys[k-1]
	}
	if i > 0 && x-n.xs[i-1] <= n.xs[i]-x {
		return n.ys[i-1]
	}
	return n.ys[i]
}

// Len returns the number of samples backing the interpolant.
func (n *Nearest) Len() int { return len(n.xs) }

// Samples returns copies of the support and values.
func (n *Nearest) Samples() ([]float64, []float64) {
	return append([]float64(nil), n.xs...), append([]float64(nil), n.ys...)
}

// Linear is a piecewise-linear interpolant.
type Linear struct {
	xs, ys []float64
	pl     gonuminterp.PiecewiseLinear
	opts   options
}

// NewLinear copies xs and ys, which must be strictly increasing in xs.
// A single sample yields a constant function.
func NewLinear(xs, ys []float64, opts ...Option) (*Linear, error) {
	if err := checkSamples(xs, ys); err != nil {
		return nil, err
	}
	l := &Linear{
		xs:   append([]float64(nil), xs...),
		ys:   append([]float64(nil), ys...),
		opts: buildOptions(opts),
	}
	if len(l.xs) >= 2 {
		if err := l.pl.Fit(l.xs, l.ys); err != nil {
			return nil, fmt.Errorf("interp: fit piecewise linear: %w", err)
		}
	}
	return l, nil
}

func (l *Linear) At(x float64) float64 {
	k := len(l.xs)
	if k == 0 {
		return l.opts.empty
	}
	if l.opts.hasOutside && (x < l.xs[0] || x > l.xs[k-1]) {
		return l.opts.outside
	}
	if k == 1 {
		return l.ys[0]
	}
	return l.pl.Predict(x)
}

func (l *Linear) Len() int { return len(l.xs) }

func (l *Linear) Samples() ([]float64, []float64) {
	return append([]float64(nil), l.xs...), append([]float64(nil), l.ys...)
}

// Select returns the entries of xs and ys whose keep flag is set.
func Select(xs, ys []float64, keep []bool) ([]float64, []float64) {
	var outX, outY []float64
	for i := range xs {
		if keep[i] {
			outX = append(outX, xs[i])
			outY = append(outY, ys[i])
		}
	}
	return outX, outY
}
