// Package plot renders PNG line charts of the per-iteration diagnostics.
package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	gonumplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Default chart dimensions in pixels.
const (
	Width  = 960
	Height = 540
)

// Palette is cycled through for series without a colour.
var Palette = []color.RGBA{
	{31, 119, 180, 255},
	{214, 39, 40, 255},
	{44, 160, 44, 255},
	{148, 103, 189, 255},
}

// Series is one line. Points with a non-finite coordinate break the line.
type Series struct {
	Name  string
	X, Y  []float64
	Color color.RGBA
}

// Chart is a set of series sharing one pair of axes.
type Chart struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series
	Width  int
	Height int
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// segments splits s into runs of finite points.
func (s Series) segments() []plotter.XYs {
	var out []plotter.XYs
	var cur plotter.XYs
	for i := range s.X {
		if i >= len(s.Y) || !finite(s.X[i]) || !finite(s.Y[i]) {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: s.X[i], Y: s.Y[i]})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// build assembles the gonum plot of c.
func (c Chart) build() (*gonumplot.Plot, error) {
	p := gonumplot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	var points int
	for n, s := range c.Series {
		col := s.Color
		if col.A == 0 {
			col = Palette[n%len(Palette)]
		}
		for k, xys := range s.segments() {
			line, err := plotter.NewLine(xys)
			if err != nil {
				return nil, fmt.Errorf("plot %q series %q: %w", c.Title, s.Name, err)
			}
			line.LineStyle.Color = col
			line.LineStyle.Width = vg.Points(1.5)
			p.Add(line)
			if len(xys) == 1 {
				// A lone point has no segment to draw.
				scatter, err := plotter.NewScatter(xys)
				if err != nil {
					return nil, fmt.Errorf("plot %q series %q: %w", c.Title, s.Name, err)
				}
				scatter.GlyphStyle.Color = col
				p.Add(scatter)
			}
			if k == 0 && s.Name != "" {
				p.Legend.Add(s.Name, line)
			}
			points += len(xys)
		}
	}
	if points == 0 {
		return nil, fmt.Errorf("plot %q: no finite points", c.Title)
	}
	return p, nil
}

// Render draws the chart. A chart without a single finite point is an error.
func Render(c Chart) (image.Image, error) {
	if c.Width == 0 {
		c.Width = Width
	}
	if c.Height == 0 {
		c.Height = Height
	}
	p, err := c.build()
	if err != nil {
		return nil, err
	}
	// At 72 DPI one point is one pixel.
	canvas := vgimg.NewWith(
		vgimg.UseWH(vg.Points(float64(c.Width)), vg.Points(float64(c.Height))),
		vgimg.UseDPI(72),
	)
	p.Draw(draw.New(canvas))
	return canvas.Image(), nil
}

// WritePNG renders c as PNG to w.
func WritePNG(w io.Writer, c Chart) error {
	img, err := Render(c)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode %q: %w", c.Title, err)
	}
	return nil
}

// WriteFile renders c to the PNG file at path.
func WriteFile(path string, c Chart) error {
	img, err := Render(c)
	if err != nil {
		return err
	}
	return writeImage(path, img)
}
