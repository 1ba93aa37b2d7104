package uvbin

import (
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/soniakeys/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeUVWRoundTrip(t *testing.T) {
	t.Parallel()
	cells := []struct {
		name   string
		cx, cy unit.Angle
	}{
		{"1arcsec", unit.AngleFromSec(1), unit.AngleFromSec(1)},
		{"rectangular", unit.AngleFromSec(2.5), unit.AngleFromSec(0.7)},
		{"negative x", unit.AngleFromSec(-3), unit.AngleFromSec(3)},
		{"1arcmin", unit.AngleFromMin(1), unit.AngleFromMin(1)},
	}
	for _, n := range []int{4, 16, 64} {
		for _, c := range cells {
			n, c := n, c
			t.Run(fmt.Sprintf("%d/%s", n, c.name), func(t *testing.T) {
				t.Parallel()
				stokes, _ := coordsys.StokesFor(false, 1)
				const refFreq = 1.4e9
				b := &Binner{spec: GridSpec{NX: n, NY: n}}
				b.csys = coordsys.New(testPhase, n, n, c.cx, c.cy, stokes,
					coordsys.Spectral{Frame: coordsys.FrameLSRK, RefFreq: refFreq, Step: 1e6})
				g := newUVGrid(b.csys, n, n)

				uvw, valid := b.makeUVW(refFreq)
				require.Equal(t, n*n, valid)
				for k := 0; k < n; k++ {
					for j := 0; j < n; j++ {
						row := k*n + j
						assert.Zero(t, uvw[row][2])
						locu, locv, ok := g.locate(uvw[row][0], uvw[row][1], refFreq)
						require.True(t, ok, "cell (%d,%d)", j, k)
						require.Equal(t, [2]int{j, k}, [2]int{locu, locv})
						assert.Equal(t, row, g.cell(uvw[row][0], uvw[row][1], refFreq))
					}
				}
			})
		}
	}
}

func TestMakeUVWCentreIsOrigin(t *testing.T) {
	t.Parallel()
	b, err := New(testSpec(8, 6, 1, 1))
	require.NoError(t, err)
	stokes, _ := coordsys.StokesFor(false, 1)
	b.csys = coordsys.New(testPhase, 8, 6, b.spec.CellX, b.spec.CellY, stokes,
		coordsys.Spectral{RefFreq: 1.4e9, Step: 1e6})
	uvw, _ := b.makeUVW(1.4e9)
	assert.Equal(t, [3]float64{0, 0, 0}, uvw[3*8+4])
	assert.Less(t, uvw[3*8+3][0], 0.0)
	assert.Greater(t, uvw[4*8+4][1], 0.0)
}

func TestLocateOffGrid(t *testing.T) {
	t.Parallel()
	stokes, _ := coordsys.StokesFor(false, 1)
	cs := coordsys.New(testPhase, 4, 4, unit.AngleFromMin(1), unit.AngleFromMin(1), stokes,
		coordsys.Spectral{RefFreq: 1.4e9, Step: 1e6})
	g := newUVGrid(cs, 4, 4)
	// One uv cell is 1/(4·1') ≈ 859.4 λ, about 184 m at 1.4 GHz.
	_, _, ok := g.locate(1e6, 0, 1.4e9)
	assert.False(t, ok)
	assert.Equal(t, -1, g.cell(0, -1e6, 1.4e9))
	assert.Equal(t, 2*4+2, g.cell(0, 0, 1.4e9))
}

func TestPhasor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, complex128(1), phasor(0, 1e9))
	// A quarter wavelength of w offset turns the phase by 90 degrees.
	f := 1e9
	quarter := speedOfLight / f / 4
	p := phasor(quarter, f)
	assert.InDelta(t, 1, cmplx.Abs(p), 1e-12)
	assert.InDelta(t, math.Pi/2, cmplx.Phase(p), 1e-12)
}
