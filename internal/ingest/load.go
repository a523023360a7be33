package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/lyadelta/internal/forest"
	"github.com/lox/lyadelta/internal/grid"
)

// Source yields stored forests.
type Source interface {
	LoadForests(ctx context.Context) ([]*forest.Forest, error)
}

// Rejected is a forest excluded by validation.
type Rejected struct {
	LosID int64
	Flags []string
}

// Load reads every forest from src and drops those with blocking quality
// flags.
func Load(ctx context.Context, src Source, g *grid.Grids, log *zap.Logger) ([]*forest.Forest, []Rejected, error) {
	all, err := src.LoadForests(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load forests: %w", err)
	}

	kept := make([]*forest.Forest, 0, len(all))
	var rejected []Rejected
	for _, f := range all {
		flags := ValidateForest(f, g)
		if Blocking(flags) {
			rejected = append(rejected, Rejected{LosID: f.LosID, Flags: flags})
			log.Debug("dropping forest", zap.Int64("los_id", f.LosID), zap.Strings("flags", flags))
			continue
		}
		kept = append(kept, f)
	}
	if len(rejected) > 0 {
		log.Warn("dropped invalid forests", zap.Int("dropped", len(rejected)), zap.Int("kept", len(kept)))
	}
	return kept, rejected, nil
}

// Summary describes a forest sample.
type Summary struct {
	NumForests int
	NumPixels  int
	MeanZ      float64
	StdZ       float64
	// MedianSNR is the median over forests of the per-forest mean
	// flux*sqrt(ivar).
	MedianSNR float64
}

// Summarize computes sample statistics of forests.
func Summarize(forests []*forest.Forest) Summary {
	s := Summary{NumForests: len(forests)}
	if len(forests) == 0 {
		return s
	}
	zs := make([]float64, len(forests))
	snr := make([]float64, len(forests))
	for i, f := range forests {
		s.NumPixels += f.Len()
		zs[i] = f.Z
		perPixel := make([]float64, 0, f.Len())
		for p := range f.Flux {
			if f.Ivar[p] > 0 {
				perPixel = append(perPixel, f.Flux[p]*math.Sqrt(f.Ivar[p]))
			}
		}
		if len(perPixel) > 0 {
			snr[i] = stat.Mean(perPixel, nil)
		}
	}
	s.MeanZ, s.StdZ = stat.MeanStdDev(zs, nil)
	if len(zs) == 1 {
		s.StdZ = 0
	}
	sort.Float64s(snr)
	s.MedianSNR = stat.Quantile(0.5, stat.Empirical, snr, nil)
	return s
}
