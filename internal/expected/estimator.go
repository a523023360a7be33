// Package expected computes the mean expected flux of a set of Lyman-alpha
// forests: per-object continua, the ensemble mean continuum, the variance
// functions and the stack of residual transmission, refined together over a
// fixed number of iterations.
package expected

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/metrics"
)

// Estimator runs the iterative expected flux computation.
type Estimator struct {
	grids  *grid.Grids
	opts   Options
	log    *zap.Logger
	writer SnapshotWriter
	fitter *ContinuumFitter

	snap      *Snapshot
	bins      []VarianceBin
	fitParams map[int64]FitParams
	outputs   map[int64]Output
	residual  *DeltaStack
}

// New validates opts and prepares the initial state. w may be nil, in which
// case no diagnostics are written.
func New(g *grid.Grids, opts Options, log *zap.Logger, w SnapshotWriter) (*Estimator, error) {
	if g == nil {
		return nil, fmt.Errorf("new estimator: %w", grid.ErrNotInitialized)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.NumProcessors == 0 {
		opts.NumProcessors = runtime.NumCPU()
	}
	if opts.Objective == "" {
		opts.Objective = ObjectiveChi2
	}
	if log == nil {
		log = zap.NewNop()
	}

	switch {
	case opts.UseIvarAsWeight:
		log.Warn("using the pipeline inverse variance as weight, variance functions will not be fitted")
	case opts.UseConstantWeight:
		log.Warn("using constant weights, variance functions will not be fitted")
	}

	vm, err := initialVariance(g.VarianceGrid(opts.NumBinsVariance), opts)
	if err != nil {
		return nil, fmt.Errorf("new estimator: %w", err)
	}
	stack, err := NewDeltaStack(nil, nil, nil, FromFlux.emptyValue())
	if err != nil {
		return nil, fmt.Errorf("new estimator: %w", err)
	}

	return &Estimator{
		grids:     g,
		opts:      opts,
		log:       log,
		writer:    w,
		fitter:    NewContinuumFitter(g, opts.Order, opts.UseConstantWeight, opts.Objective),
		snap:      &Snapshot{MeanCont: flatMeanContinuum(g.Rest()), Variance: vm, Stack: stack},
		fitParams: make(map[int64]FitParams),
	}, nil
}

// initialVariance returns the variance functions used by the first
// iteration.
func initialVariance(varGrid grid.Axis, opts Options) (VarianceModel, error) {
	xs := varGrid.Values()
	eta := make([]float64, len(xs))
	varLSS := make([]float64, len(xs))
	fudge := make([]float64, len(xs))
	valid := make([]float64, len(xs))
	for i, x := range xs {
		switch {
		case opts.UseIvarAsWeight:
			eta[i], varLSS[i], fudge[i], valid[i] = 1, 0, 0, 1
		case opts.UseConstantWeight:
			eta[i], varLSS[i], fudge[i], valid[i] = 0, 1, 0, 1
		default:
			eta[i], varLSS[i], fudge[i] = 1, 0.2, 0
			if opts.FixEta.Set {
				eta[i] = fixedAt(opts.FixEta, x)
			}
			if opts.FixFudge.Set {
				fudge[i] = fixedAt(opts.FixFudge, x)
			}
		}
	}
	return NewVarianceModel(xs, eta, varLSS, fudge, make([]float64, len(xs)), valid)
}

// Run iterates over forests, updating them in place. Per-forest failures are
// recorded on the forests; only cancellation, internal numerical errors and
// writer failures are returned.
func (e *Estimator) Run(ctx context.Context, forests []*forest.Forest) error {
	last := e.opts.NumIterations - 1
	for it := 0; it <= last; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.log.Info("starting iteration", zap.Int("iteration", it), zap.Int("forests", len(forests)))

		start := time.Now()
		if err := e.fitContinua(ctx, forests); err != nil {
			return fmt.Errorf("iteration %d: %w", it, err)
		}
		metrics.IterationDuration.WithLabelValues("continuum").Observe(time.Since(start).Seconds())

		if it < last {
			if err := e.updateSharedState(forests); err != nil {
				return fmt.Errorf("iteration %d: %w", it, err)
			}
		}

		stack, err := StackDeltas(e.grids, forests, e.snap, FromFlux)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", it, err)
		}
		next := *e.snap
		next.Stack = stack
		e.snap = &next

		if it == last {
			if err := e.finalize(forests); err != nil {
				return err
			}
			if err := e.save(ctx, FinalIteration); err != nil {
				return err
			}
		} else if err := e.save(ctx, it+1); err != nil {
			return err
		}
		metrics.IterationDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}
	return nil
}

// fitContinua fits every forest against the current snapshot using up to
// NumProcessors goroutines. Each task writes only its own forest and slot.
func (e *Estimator) fitContinua(ctx context.Context, forests []*forest.Forest) error {
	snap := e.snap
	results := make([]FitResult, len(forests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.NumProcessors)
	for i, f := range forests {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.fitter.Fit(f, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		e.fitParams[r.LosID] = r.Params
		metrics.ForestsProcessed.Inc()
		metrics.ContinuumFitsTotal.WithLabelValues(metrics.Outcome(r.Reason)).Inc()
		if r.Reason != "" {
			failed++
			e.log.Debug("continuum fit rejected", zap.Int64("los_id", r.LosID), zap.String("reason", r.Reason))
		}
	}
	e.log.Info("fitted continua", zap.Int("ok", len(results)-failed), zap.Int("rejected", failed))
	return nil
}

// updateSharedState recomputes the mean continuum and, unless a fixed-weight
// mode is on, the variance functions.
func (e *Estimator) updateSharedState(forests []*forest.Forest) error {
	start := time.Now()
	mc, err := StackMeanContinuum(e.grids, forests, e.snap)
	if err != nil {
		return err
	}
	next := *e.snap
	next.MeanCont = mc
	metrics.IterationDuration.WithLabelValues("mean_continuum").Observe(time.Since(start).Seconds())

	if !e.opts.FixedWeights() {
		start = time.Now()
		vm, bins, err := FitVarianceFunctions(e.grids, forests, &next, e.opts, e.log)
		if err != nil {
			return err
		}
		next.Variance = vm
		e.bins = bins
		var valid int
		for _, b := range bins {
			if b.Valid {
				valid++
			}
		}
		metrics.ValidVarianceBins.Set(float64(valid))
		metrics.IterationDuration.WithLabelValues("variance").Observe(time.Since(start).Seconds())
		e.log.Info("fitted variance functions", zap.Int("bins", len(bins)), zap.Int("valid", valid))
	}
	e.snap = &next
	return nil
}

func (e *Estimator) finalize(forests []*forest.Forest) error {
	e.outputs = Finalize(forests, e.snap)
	ExtractDeltas(forests, e.outputs)
	residual, err := StackDeltas(e.grids, forests, e.snap, FromDeltas)
	if err != nil {
		return fmt.Errorf("residual stack: %w", err)
	}
	e.residual = &residual
	e.log.Info("extracted deltas", zap.Int("forests", len(e.outputs)))
	return nil
}

func (e *Estimator) save(ctx context.Context, iteration int) error {
	if e.writer == nil {
		return nil
	}
	d := NewDiagnostics(e.grids, e.opts.Order, e.opts.NumBinsVariance, e.snap, e.bins, e.residual)
	if err := e.writer.SaveIteration(ctx, iteration, d); err != nil {
		return fmt.Errorf("save iteration %d: %w", iteration, err)
	}
	return nil
}

// Snapshot returns the current shared state.
func (e *Estimator) Snapshot() *Snapshot { return e.snap }

// Outputs returns the final per-object products, nil before Run completes.
func (e *Estimator) Outputs() map[int64]Output { return e.outputs }

// FitParameters returns the latest continuum parameters per LosID.
func (e *Estimator) FitParameters() map[int64]FitParams { return e.fitParams }

// ResidualStack returns the stack of the extracted deltas, nil before Run
// completes.
func (e *Estimator) ResidualStack() *DeltaStack { return e.residual }

// Options returns the effective options.
func (e *Estimator) Options() Options { return e.opts }
