package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lox/lyadelta/internal/config"
	"github.com/lox/lyadelta/internal/expected"
	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/ingest"
	"github.com/lox/lyadelta/internal/metrics"
	"github.com/lox/lyadelta/internal/plot"
	"github.com/lox/lyadelta/internal/store"
)

type RunCmd struct {
	config.Config
}

func (c *RunCmd) Run(g *Globals) error {
	cfg := &c.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	defer func() {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			g.Log.Warn("write metrics", zap.Error(err))
		}
	}()

	grids, err := grid.New(cfg.Grid.Spec())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db, g.Log)
	if err := st.Migrate(); err != nil {
		return err
	}

	opts, err := cfg.ToOptions(g.Ctx, st)
	if err != nil {
		return err
	}

	forests, rejected, err := ingest.Load(g.Ctx, st, grids, g.Log)
	if err != nil {
		return err
	}
	if len(forests) == 0 {
		return errors.New("no valid forests in the database, run simulate first")
	}
	summary := ingest.Summarize(forests)
	g.Log.Info("loaded forests",
		zap.Int("forests", summary.NumForests),
		zap.Int("pixels", summary.NumPixels),
		zap.Int("rejected", len(rejected)),
		zap.Float64("mean_z", summary.MeanZ),
		zap.Float64("median_snr", summary.MedianSNR),
	)

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	run := &store.Run{
		Order:         opts.Order,
		NumIterations: opts.NumIterations,
		WaveSolution:  string(grids.Solution()),
		ConfigJSON:    sql.NullString{String: string(cfgJSON), Valid: true},
		NumForests:    sql.NullInt64{Int64: int64(len(forests)), Valid: true},
	}
	if err := st.StartRun(g.Ctx, run); err != nil {
		return err
	}
	log := g.Log.With(zap.Int64("run_id", run.ID))

	runErr := c.execute(g.Ctx, log, st, run.ID, grids, opts, forests)
	// The run record is closed even when the context was cancelled.
	if err := st.FinishRun(context.WithoutCancel(g.Ctx), run, runErr); err != nil {
		log.Error("finish run", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	counts, err := st.RejectionCounts(g.Ctx, run.ID)
	if err != nil {
		return err
	}
	log.Info("run finished", zap.Int("forests", len(forests)), zap.Any("rejected_continua", counts))

	if cfg.PlotDir != "" {
		d, err := st.LoadIteration(g.Ctx, run.ID, expected.FinalIteration)
		if err != nil {
			return err
		}
		paths, err := plot.WriteDiagnostics(cfg.PlotDir, d)
		if err != nil {
			return err
		}
		log.Info("wrote plots", zap.Strings("paths", paths))
	}
	return nil
}

func (c *RunCmd) execute(ctx context.Context, log *zap.Logger, st *store.Store, runID int64, grids *grid.Grids, opts expected.Options, forests []*forest.Forest) error {
	est, err := expected.New(grids, opts, log, st.DiagnosticsWriter(runID))
	if err != nil {
		return err
	}
	if err := est.Run(ctx, forests); err != nil {
		return err
	}
	return st.SaveOutputs(ctx, runID, forests, est.Outputs(), est.FitParameters())
}
