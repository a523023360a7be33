package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lox/lyadelta/internal/config"
	"github.com/lox/lyadelta/internal/expected"
	"github.com/lox/lyadelta/internal/grid"
	"github.com/lox/lyadelta/internal/ingest"
)

type SimulateCmd struct {
	DatabaseFlags
	Grid config.Grid `embed:""`

	NumForests     int     `name:"num-forests" default:"500" help:"Number of forests to generate."`
	Seed           uint64  `name:"seed" default:"1" help:"Random seed."`
	FirstLosID     int64   `name:"first-los-id" default:"1" help:"LosID of the first forest."`
	ZMin           float64 `name:"z-min" default:"2.3" help:"Minimum quasar redshift."`
	ZMax           float64 `name:"z-max" default:"3.2" help:"Maximum quasar redshift."`
	Eta            float64 `name:"eta" default:"1.2" help:"True pipeline noise rescaling."`
	VarLSS         float64 `name:"var-lss" default:"0.05" help:"True intrinsic variance."`
	Fudge          float64 `name:"fudge" default:"0" help:"True fudge term in units of 1e-7."`
	VarPipeMin     float64 `name:"var-pipe-min" default:"0.005" help:"Smallest per-forest pipeline variance."`
	VarPipeMax     float64 `name:"var-pipe-max" default:"0.3" help:"Largest per-forest pipeline variance."`
	NoTransmission bool    `name:"no-transmission" help:"Do not apply the mean Lyman-alpha transmission."`
	ExposuresDiff  float64 `name:"exposures-diff-fraction" default:"0" help:"Fraction of forests carrying exposure differences."`
}

func (c *SimulateCmd) Run(g *Globals) error {
	grids, err := grid.New(c.Grid.Spec())
	if err != nil {
		return err
	}
	cfg := ingest.SimulateConfig{
		NumForests:            c.NumForests,
		Seed:                  c.Seed,
		FirstLosID:            c.FirstLosID,
		ZMin:                  c.ZMin,
		ZMax:                  c.ZMax,
		Eta:                   c.Eta,
		VarLSS:                c.VarLSS,
		Fudge:                 c.Fudge * expected.FudgeRef,
		VarPipeMin:            c.VarPipeMin,
		VarPipeMax:            c.VarPipeMax,
		MeanTransmission:      !c.NoTransmission,
		ExposuresDiffFraction: c.ExposuresDiff,
	}
	forests, _, err := ingest.Simulate(grids, cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.DB), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	st, closeDB, err := c.open(g.Log)
	if err != nil {
		return err
	}
	defer closeDB()

	written, err := st.SaveForests(g.Ctx, forests)
	if err != nil {
		return err
	}
	summary := ingest.Summarize(forests)
	g.Log.Info("simulated forests",
		zap.Int("forests", summary.NumForests),
		zap.Int("written", written),
		zap.Int("pixels", summary.NumPixels),
		zap.Float64("mean_z", summary.MeanZ),
		zap.Float64("median_snr", summary.MedianSNR),
		zap.String("db", c.DB),
	)
	return nil
}
