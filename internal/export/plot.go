package export

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// coverageGrid adapts the summed weight of a cube to plotter.GridXYZ, with
// axes in kilo-wavelengths. Zero-weight cells are NaN so they stay blank.
type coverageGrid struct {
	nx, ny   int
	du, dv   float64
	weight   []float64
	logScale bool
}

func (g coverageGrid) Dims() (c, r int) { return g.nx, g.ny }

func (g coverageGrid) Z(c, r int) float64 {
	w := g.weight[r*g.nx+c]
	if w <= 0 {
		return math.NaN()
	}
	if g.logScale {
		return math.Log10(w)
	}
	return w
}

func (g coverageGrid) X(c int) float64 { return float64(c-g.nx/2) * g.du / 1e3 }
func (g coverageGrid) Y(r int) float64 { return float64(r-g.ny/2) * g.dv / 1e3 }

// PlotUVCoverage saves a heat map of the weight of every uv cell, summed over
// channels and polarizations, to path. The image format follows the file
// extension.
func PlotUVCoverage(c *Cube, path string, logScale bool) error {
	weight := c.Coverage()
	filled := 0
	for _, w := range weight {
		if w > 0 {
			filled++
		}
	}
	if filled == 0 {
		return fmt.Errorf("uv coverage: no cell carries weight")
	}
	duv := c.CSys.Direction.FourierIncrement(c.NX, c.NY)
	grid := coverageGrid{nx: c.NX, ny: c.NY, du: duv[0], dv: duv[1], weight: weight, logScale: logScale}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("uv coverage (%d of %d cells)", filled, len(weight))
	p.X.Label.Text = "u (kλ)"
	p.Y.Label.Text = "v (kλ)"

	hm := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	side := 6 * vg.Inch
	if err := p.Save(side, side, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
