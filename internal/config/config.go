// Package config holds the command-line and environment configuration of a
// delta extraction run and converts it into estimator options.
package config

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lox/lyadelta/internal/expected"
	"github.com/lox/lyadelta/internal/grid"
)

// Error reports an invalid option.
type Error struct {
	Option string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("invalid option %q: %s", e.Option, e.Reason) }

// Interval parses "(min,max)", "[min,max]" or "min,max". Brackets are
// accepted for readability only; the bounds are always inclusive.
type Interval expected.Interval

func (i *Interval) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	s = strings.TrimLeft(s, "([")
	s = strings.TrimRight(s, ")]")
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return fmt.Errorf("interval %q: want min,max", text)
	}
	var err error
	if i.Min, err = strconv.ParseFloat(strings.TrimSpace(lo), 64); err != nil {
		return fmt.Errorf("interval %q: %w", text, err)
	}
	if i.Max, err = strconv.ParseFloat(strings.TrimSpace(hi), 64); err != nil {
		return fmt.Errorf("interval %q: %w", text, err)
	}
	return nil
}

func (i Interval) String() string { return expected.Interval(i).String() }

// FixedSource is the value of --eta-value/--fudge-value: either a number
// applied at every wavelength or "run:<id>" to reuse the final variance
// functions of an earlier run.
type FixedSource struct {
	Set   bool
	Value float64
	RunID int64
}

func (f *FixedSource) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	*f = FixedSource{}
	if s == "" {
		return nil
	}
	if id, ok := strings.CutPrefix(s, "run:"); ok {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("fixed value %q: run id must be a positive integer", s)
		}
		f.Set, f.RunID = true, n
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("fixed value %q: %w", s, err)
	}
	f.Set, f.Value = true, v
	return nil
}

// FromRun reports whether the value refers to an earlier run.
func (f FixedSource) FromRun() bool { return f.Set && f.RunID > 0 }

// Grid configures the observed and rest-frame wavelength grids.
type Grid struct {
	WaveSolution string  `name:"wave-solution" enum:"lin,log" default:"log" env:"LYADELTA_WAVE_SOLUTION" help:"Wavelength sampling: lin or log."`
	LambdaMin    float64 `name:"lambda-min" default:"3600" env:"LYADELTA_LAMBDA_MIN" help:"Observed-frame minimum wavelength (Angstrom)."`
	LambdaMax    float64 `name:"lambda-max" default:"5500" env:"LYADELTA_LAMBDA_MAX" help:"Observed-frame maximum wavelength (Angstrom)."`
	DeltaLambda  float64 `name:"delta-lambda" default:"3e-4" env:"LYADELTA_DELTA_LAMBDA" help:"Observed pixel step (dex for log, Angstrom for lin)."`
	RestMin      float64 `name:"lambda-min-rest-frame" default:"1040" env:"LYADELTA_LAMBDA_MIN_REST" help:"Rest-frame minimum wavelength (Angstrom)."`
	RestMax      float64 `name:"lambda-max-rest-frame" default:"1200" env:"LYADELTA_LAMBDA_MAX_REST" help:"Rest-frame maximum wavelength (Angstrom)."`
	DeltaRest    float64 `name:"delta-lambda-rest-frame" default:"1e-3" env:"LYADELTA_DELTA_LAMBDA_REST" help:"Rest-frame bin width (dex for log, Angstrom for lin)."`
}

// Spec converts the options into a grid specification.
func (g Grid) Spec() grid.Spec {
	return grid.Spec{
		Solution: grid.Solution(g.WaveSolution),
		ObsMin:   g.LambdaMin,
		ObsMax:   g.LambdaMax,
		ObsStep:  g.DeltaLambda,
		RestMin:  g.RestMin,
		RestMax:  g.RestMax,
		RestStep: g.DeltaRest,
	}
}

// Config is the full set of options of the run command.
type Config struct {
	Grid Grid `embed:""`

	NumIterations     int                `name:"num-iterations" default:"5" env:"LYADELTA_NUM_ITERATIONS" help:"Number of continuum fitting iterations."`
	NumBinsVariance   int                `name:"num-bins-variance" default:"20" env:"LYADELTA_NUM_BINS_VARIANCE" help:"Observed-wavelength bins of the variance functions."`
	Order             int                `name:"order" default:"1" env:"LYADELTA_ORDER" help:"Continuum polynomial order (0 or 1)."`
	LimitEta          Interval           `name:"limit-eta" default:"(0.5,1.5)" env:"LYADELTA_LIMIT_ETA" help:"Allowed eta range."`
	LimitVarLSS       Interval           `name:"limit-var-lss" default:"(0,0.3)" env:"LYADELTA_LIMIT_VAR_LSS" help:"Allowed var_lss range."`
	UseConstantWeight bool               `name:"use-constant-weight" env:"LYADELTA_USE_CONSTANT_WEIGHT" help:"Weight every pixel equally (eta=0, var_lss=1, fudge=0)."`
	UseIvarAsWeight   bool               `name:"use-ivar-as-weight" env:"LYADELTA_USE_IVAR_AS_WEIGHT" help:"Use the pipeline ivar as weight (eta=1, var_lss=0, fudge=0)."`
	NumProcessors     int                `name:"num-processors" default:"0" env:"LYADELTA_NUM_PROCESSORS" help:"Parallel continuum fits (0 uses every CPU)."`
	Objective         expected.Objective `name:"continuum-objective" enum:"chi2,likelihood" default:"chi2" env:"LYADELTA_CONTINUUM_OBJECTIVE" help:"Continuum fit objective."`
	MinForestsPerCell int                `name:"min-forests-per-cell" default:"100" env:"LYADELTA_MIN_FORESTS_PER_CELL" help:"Distinct forests a variance cell needs to enter the fit."`
	EtaValue          FixedSource        `name:"eta-value" env:"LYADELTA_ETA_VALUE" help:"Fix eta to a number or to run:<id>."`
	FudgeValue        FixedSource        `name:"fudge-value" env:"LYADELTA_FUDGE_VALUE" help:"Fix fudge to a number or to run:<id>."`

	OutDir        string `name:"out-dir" default:"data" env:"LYADELTA_OUT_DIR" help:"Directory for the database and plots."`
	IterOutPrefix string `name:"iter-out-prefix" default:"delta_attributes" env:"LYADELTA_ITER_OUT_PREFIX" help:"Base name of the diagnostics database."`
	PlotDir       string `name:"plot-dir" env:"LYADELTA_PLOT_DIR" help:"Write PNG diagnostics of the final iteration here."`
	MetricsFile   string `name:"metrics-textfile" env:"LYADELTA_METRICS_TEXTFILE" help:"Write Prometheus metrics to this textfile on exit."`
}

// Validate checks every option before any iteration runs.
func (c *Config) Validate() error {
	if _, err := grid.New(c.Grid.Spec()); err != nil {
		return &Error{Option: "grid", Reason: err.Error()}
	}
	switch {
	case c.NumIterations < 1:
		return &Error{Option: "num-iterations", Reason: "must be at least 1"}
	case c.NumBinsVariance < 1:
		return &Error{Option: "num-bins-variance", Reason: "must be at least 1"}
	case c.Order != 0 && c.Order != 1:
		return &Error{Option: "order", Reason: fmt.Sprintf("must be 0 or 1, got %d", c.Order)}
	case c.NumProcessors < 0:
		return &Error{Option: "num-processors", Reason: "must not be negative"}
	case c.MinForestsPerCell < 0:
		return &Error{Option: "min-forests-per-cell", Reason: "must not be negative"}
	case c.UseConstantWeight && c.UseIvarAsWeight:
		return &Error{Option: "use-constant-weight", Reason: "cannot be combined with use-ivar-as-weight"}
	case c.IterOutPrefix == "":
		return &Error{Option: "iter-out-prefix", Reason: "must not be empty"}
	case strings.ContainsRune(c.IterOutPrefix, '/'):
		return &Error{Option: "iter-out-prefix", Reason: "must not include folders, use out-dir"}
	}
	if err := checkInterval("limit-eta", c.LimitEta); err != nil {
		return err
	}
	if err := checkInterval("limit-var-lss", c.LimitVarLSS); err != nil {
		return err
	}
	if (c.EtaValue.Set || c.FudgeValue.Set) && (c.UseConstantWeight || c.UseIvarAsWeight) {
		return &Error{Option: "eta-value", Reason: "fixed variance functions cannot be combined with a fixed-weight mode"}
	}
	for option, src := range map[string]FixedSource{"eta-value": c.EtaValue, "fudge-value": c.FudgeValue} {
		if src.Set && !src.FromRun() && !(src.Value >= 0 && !math.IsInf(src.Value, 1)) {
			return &Error{Option: option, Reason: "must be finite and non-negative"}
		}
	}
	return nil
}

func checkInterval(option string, i Interval) error {
	if math.IsNaN(i.Min) || math.IsNaN(i.Max) || i.Min > i.Max {
		return &Error{Option: option, Reason: fmt.Sprintf("%v is empty", i)}
	}
	if i.Min < 0 {
		return &Error{Option: option, Reason: fmt.Sprintf("%v has a negative lower bound", i)}
	}
	return nil
}

// DatabasePath is where the forests and diagnostics are stored.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.OutDir, c.IterOutPrefix+".db")
}

// RunTables resolves variance functions saved by an earlier run.
type RunTables interface {
	FixedFromRun(ctx context.Context, runID int64) (eta, fudge expected.Fixed, err error)
}

// ToOptions builds estimator options. runs is only consulted when a fixed
// value refers to an earlier run and may be nil otherwise.
func (c *Config) ToOptions(ctx context.Context, runs RunTables) (expected.Options, error) {
	opts := expected.Options{
		NumIterations:     c.NumIterations,
		NumBinsVariance:   c.NumBinsVariance,
		Order:             c.Order,
		LimitEta:          expected.Interval(c.LimitEta),
		LimitVarLSS:       expected.Interval(c.LimitVarLSS),
		UseConstantWeight: c.UseConstantWeight,
		UseIvarAsWeight:   c.UseIvarAsWeight,
		NumProcessors:     c.NumProcessors,
		Objective:         c.Objective,
		MinForestsPerCell: c.MinForestsPerCell,
	}

	var err error
	if opts.FixEta, err = resolveFixed(ctx, runs, "eta-value", c.EtaValue, true); err != nil {
		return opts, err
	}
	if opts.FixFudge, err = resolveFixed(ctx, runs, "fudge-value", c.FudgeValue, false); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// Fudge values on the command line are in units of expected.FudgeRef.
func resolveFixed(ctx context.Context, runs RunTables, option string, src FixedSource, eta bool) (expected.Fixed, error) {
	if !src.Set {
		return expected.Fixed{}, nil
	}
	if !src.FromRun() {
		v := src.Value
		if !eta {
			v *= expected.FudgeRef
		}
		return expected.FixedValue(v), nil
	}
	if runs == nil {
		return expected.Fixed{}, &Error{Option: option, Reason: "no store to read run tables from"}
	}
	fixEta, fixFudge, err := runs.FixedFromRun(ctx, src.RunID)
	if err != nil {
		return expected.Fixed{}, fmt.Errorf("%s: %w", option, err)
	}
	if eta {
		return fixEta, nil
	}
	return fixFudge, nil
}
