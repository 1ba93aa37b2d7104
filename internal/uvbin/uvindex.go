package uvbin

import (
	"math"

	"github.com/banshee-data/uvbin/internal/coordsys"
)

// makeUVW returns the (u,v,w) in meters at refFreq of every grid cell in
// raster order, and the number of cells with a valid coordinate. w is zero.
func (b *Binner) makeUVW(refFreq float64) ([][3]float64, int) {
	nx, ny := b.spec.NX, b.spec.NY
	inc := b.csys.Direction.FourierIncrement(nx, ny)
	lambda := speedOfLight / refFreq
	uvw := make([][3]float64, nx*ny)
	valid := 0
	for k := 0; k < ny; k++ {
		for j := 0; j < nx; j++ {
			u := float64(j-nx/2) * inc[0] * lambda
			v := float64(k-ny/2) * inc[1] * lambda
			if math.IsNaN(u) || math.IsInf(u, 0) || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			uvw[k*nx+j] = [3]float64{u, v, 0}
			valid++
		}
	}
	return uvw, valid
}

// uvGrid places (u,v) in meters onto grid cells.
type uvGrid struct {
	nx, ny         int
	scaleU, scaleV float64 // n·Δ/c
}

func newUVGrid(cs *coordsys.System, nx, ny int) uvGrid {
	inc := cs.Direction.Increment()
	return uvGrid{
		nx: nx, ny: ny,
		scaleU: float64(nx) * inc[0] / speedOfLight,
		scaleV: float64(ny) * inc[1] / speedOfLight,
	}
}

// position returns the fractional cell of (u,v) observed at freq.
func (g uvGrid) position(u, v, freq float64) (float64, float64) {
	return float64(g.nx/2) + u*freq*g.scaleU, float64(g.ny/2) + v*freq*g.scaleV
}

// locate returns the nearest cell of (u,v) at freq; ok is false off the grid.
func (g uvGrid) locate(u, v, freq float64) (locu, locv int, ok bool) {
	pu, pv := g.position(u, v, freq)
	locu = int(math.Floor(pu + 0.5))
	locv = int(math.Floor(pv + 0.5))
	return locu, locv, g.inside(locu, locv)
}

// cell returns the raster index of (u,v) at freq, or -1 off the grid.
func (g uvGrid) cell(u, v, freq float64) int {
	locu, locv, ok := g.locate(u, v, freq)
	if !ok {
		return -1
	}
	return locv*g.nx + locu
}

func (g uvGrid) inside(x, y int) bool {
	return x >= 0 && x < g.nx && y >= 0 && y < g.ny
}

// phasor is the factor re-phasing a visibility whose w moved by dw meters.
func phasor(dw, freq float64) complex128 {
	if dw == 0 {
		return 1
	}
	s, c := math.Sincos(2 * math.Pi * dw * freq / speedOfLight)
	return complex(c, s)
}
