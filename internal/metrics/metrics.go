package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lox/lyadelta/internal/forest"
)

var (
	ContinuumFitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyadelta_continuum_fits_total",
			Help: "Total continuum fits by outcome",
		},
		[]string{"outcome"},
	)

	IterationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lyadelta_iteration_duration_seconds",
			Help:    "Wall time of one expected flux iteration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"step"},
	)

	ValidVarianceBins = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lyadelta_valid_variance_bins",
			Help: "Number of variance bins whose fit succeeded in the last iteration",
		},
	)

	ForestsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lyadelta_forests_processed_total",
			Help: "Total forests passed through a continuum fit",
		},
	)

	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyadelta_store_retries_total",
			Help: "Total retried store writes",
		},
		[]string{"operation"},
	)
)

// Outcome label for a continuum fit with the given failure reason.
func Outcome(reason string) string {
	switch reason {
	case "":
		return "ok"
	case forest.ReasonNotConverged:
		return "not_converged"
	case forest.ReasonNegativeContinuum:
		return "negative_continuum"
	}
	return "other"
}

// WriteTextfile dumps the default registry in the node exporter textfile
// format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
