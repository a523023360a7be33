package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lox/lyadelta/internal/expected"
	"github.com/lox/lyadelta/internal/plot"
	"github.com/lox/lyadelta/internal/store"
)

// IterationFlags selects one stored iteration. RunID 0 is the latest
// successful run.
type IterationFlags struct {
	RunID     int64 `name:"run" default:"0" help:"Run ID (0 for the latest successful run)."`
	Iteration int   `name:"iteration" default:"-1" help:"Iteration number (-1 for the final iteration)."`
}

func (f IterationFlags) resolve(g *Globals, st *store.Store) (*store.Run, error) {
	if f.RunID == 0 {
		return st.LatestRun(g.Ctx)
	}
	return st.GetRun(g.Ctx, f.RunID)
}

type InspectCmd struct {
	DatabaseFlags
	IterationFlags
	Runs int `name:"runs" default:"10" help:"Number of recent runs to list."`
}

func (c *InspectCmd) Run(g *Globals) error {
	st, closeDB, err := c.open(g.Log)
	if err != nil {
		return err
	}
	defer closeDB()
	out := os.Stdout

	stats, err := st.GetForestStats(g.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "forests: %d (%d pixels, %d with exposure differences, %.1f KiB), z in [%.3f, %.3f]\n",
		stats.Count, stats.TotalPixels, stats.WithExposures, float64(stats.TotalSizeBytes)/1024, stats.MinZ, stats.MaxZ)

	runs, err := st.ListRuns(g.Ctx, c.Runs)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nruns:")
	for _, r := range runs {
		status := "running"
		if r.Success.Valid {
			status = "ok"
			if !r.Success.Bool {
				status = "failed: " + r.ErrorMessage.String
			}
		}
		fmt.Fprintf(out, "  %4d  %s  order=%d iterations=%d solution=%s forests=%d  %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Order, r.NumIterations, r.WaveSolution, r.NumForests.Int64, status)
	}

	run, err := c.resolve(g, st)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(out, "\nno finished run to inspect")
		return nil
	}
	if err != nil {
		return err
	}
	d, err := st.LoadIteration(g.Ctx, run.ID, c.Iteration)
	if err != nil {
		return err
	}
	counts, err := st.RejectionCounts(g.Ctx, run.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nrun %d iteration %d (order %d)\n", run.ID, c.Iteration, d.Order)
	for reason, n := range counts {
		fmt.Fprintf(out, "  rejected (%s): %d\n", reason, n)
	}
	printDiagnostics(out, d)
	return nil
}

func printDiagnostics(w io.Writer, d expected.Diagnostics) {
	fmt.Fprintln(w, "\nVAR_FUNC")
	fmt.Fprintf(w, "%12s %10s %10s %12s %10s %6s %12s\n", "wave", "eta", "var_lss", "fudge", "num_pix", "valid", "chi2")
	for _, b := range d.VarFunc {
		fmt.Fprintf(w, "%12.6f %10.5f %10.5f %12.4e %10d %6t %12.4g\n", b.Wave, b.Eta, b.VarLSS, b.Fudge, b.NumPixels, b.Valid, b.Chi2)
	}

	fmt.Fprintln(w, "\nCONT")
	fmt.Fprintf(w, "%12s %12s %14s\n", "wave", "mean_cont", "weight")
	for _, r := range d.Cont {
		fmt.Fprintf(w, "%12.6f %12.6f %14.6g\n", r.Wave, r.MeanCont, r.Weight)
	}
}

type PlotCmd struct {
	DatabaseFlags
	IterationFlags
	Dir string `name:"dir" default:"plots" help:"Output directory for the PNG files."`
}

func (c *PlotCmd) Run(g *Globals) error {
	st, closeDB, err := c.open(g.Log)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := c.resolve(g, st)
	if err != nil {
		return err
	}
	d, err := st.LoadIteration(g.Ctx, run.ID, c.Iteration)
	if err != nil {
		return err
	}
	paths, err := plot.WriteDiagnostics(c.Dir, d)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}
