package plot

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/lox/lyadelta/internal/expected"
)

// MeanContinuum charts the CONT table.
func MeanContinuum(d expected.Diagnostics) Chart {
	s := Series{Name: "mean continuum"}
	for _, r := range d.Cont {
		s.X = append(s.X, r.Wave)
		s.Y = append(s.Y, r.MeanCont)
	}
	return Chart{Title: "Mean continuum", XLabel: "rest-frame wavelength coordinate", Series: []Series{s}}
}

// Stack charts the flux stack and, when present, the residual delta stack.
// Samples with zero weight are left out.
func Stack(d expected.Diagnostics) Chart {
	c := Chart{Title: "Stacked deltas", XLabel: "observed wavelength coordinate"}
	c.Series = append(c.Series, stackSeries("flux/continuum", d.Stack))
	if d.DeltaStack != nil {
		residual := stackSeries("1 + delta", d.DeltaStack)
		for i := range residual.Y {
			residual.Y[i]++
		}
		c.Series = append(c.Series, residual)
	}
	return c
}

func stackSeries(name string, rows []expected.StackRow) Series {
	s := Series{Name: name}
	for _, r := range rows {
		if r.Weight == 0 {
			continue
		}
		s.X = append(s.X, r.Wave)
		s.Y = append(s.Y, r.Stack)
	}
	return s
}

// VarianceFunctions returns one chart per variance function. The fudge
// term is shown in units of expected.FudgeRef.
func VarianceFunctions(d expected.Diagnostics) []Chart {
	eta := Series{Name: "eta"}
	varLSS := Series{Name: "var_lss"}
	fudge := Series{Name: "fudge / 1e-7"}
	for _, b := range d.VarFunc {
		eta.X = append(eta.X, b.Wave)
		varLSS.X = append(varLSS.X, b.Wave)
		fudge.X = append(fudge.X, b.Wave)
		eta.Y = append(eta.Y, b.Eta)
		varLSS.Y = append(varLSS.Y, b.VarLSS)
		fudge.Y = append(fudge.Y, b.Fudge/expected.FudgeRef)
	}
	xlabel := "observed wavelength coordinate"
	return []Chart{
		{Title: "eta", XLabel: xlabel, Series: []Series{eta}},
		{Title: "var_lss", XLabel: xlabel, Series: []Series{varLSS}},
		{Title: "fudge", XLabel: xlabel, Series: []Series{fudge}},
	}
}

// Names of the files written by WriteDiagnostics, in order.
var diagnosticFiles = []string{"cont.png", "stack.png", "eta.png", "var_lss.png", "fudge.png"}

// OverviewFile is the thumbnail sheet of all diagnostic charts.
const OverviewFile = "overview.png"

// WriteDiagnostics writes every chart of d into dir, followed by an overview
// sheet, and returns the paths.
func WriteDiagnostics(dir string, d expected.Diagnostics) ([]string, error) {
	charts := map[string]Chart{
		"cont.png":  MeanContinuum(d),
		"stack.png": Stack(d),
	}
	for _, c := range VarianceFunctions(d) {
		charts[c.Title+".png"] = c
	}

	var paths []string
	var images []image.Image
	for _, name := range diagnosticFiles {
		img, err := Render(charts[name])
		if err != nil {
			return paths, fmt.Errorf("%s: %w", name, err)
		}
		path := filepath.Join(dir, name)
		if err := writeImage(path, img); err != nil {
			return paths, fmt.Errorf("%s: %w", name, err)
		}
		images = append(images, img)
		paths = append(paths, path)
	}

	path := filepath.Join(dir, OverviewFile)
	if err := writeImage(path, Overview(images, 2, Width/2, Height/2)); err != nil {
		return paths, fmt.Errorf("%s: %w", OverviewFile, err)
	}
	return append(paths, path), nil
}

// Overview scales images into a sheet with the given number of columns and
// cell size, left to right and top to bottom.
func Overview(images []image.Image, columns, cellW, cellH int) *image.RGBA {
	rows := (len(images) + columns - 1) / columns
	sheet := image.NewRGBA(image.Rect(0, 0, columns*cellW, rows*cellH))
	xdraw.Draw(sheet, sheet.Bounds(), image.White, image.Point{}, xdraw.Src)
	for i, img := range images {
		x, y := (i%columns)*cellW, (i/columns)*cellH
		xdraw.ApproxBiLinear.Scale(sheet, image.Rect(x, y, x+cellW, y+cellH), img, img.Bounds(), xdraw.Over, nil)
	}
	return sheet
}

func writeImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode plot: %w", err)
	}
	return f.Close()
}
