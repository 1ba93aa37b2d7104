package mstest

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/valyala/fastrand"
)

const speedOfLight = 299792458.0

// SimConfig drives Simulate.
type SimConfig struct {
	Rows      int
	MaxUV     float64 // meters
	MaxW      float64 // meters
	Flux      float64 // Jy, point source at the phase centre
	Noise     float64 // Jy rms per real/imag part
	Seed      uint32
	StartTime float64 // MJD seconds
}

// Simulate appends cfg.Rows rows of a point source with Gaussian noise to a
// table built by Create. Baselines cycle through antenna pairs and uvw are
// drawn uniformly within ±MaxUV (u, v) and ±MaxW (w).
func Simulate(ctx context.Context, ms *msdb.MS, cfg SimConfig) error {
	spws, err := ms.SpectralWindows(ctx)
	if err != nil {
		return err
	}
	pols, err := ms.Polarizations(ctx)
	if err != nil {
		return err
	}
	ants, err := ms.Antennas(ctx)
	if err != nil {
		return err
	}
	spw, ok := spws[0]
	if !ok {
		return fmt.Errorf("simulate: table has no spectral window 0")
	}
	pol, ok := pols[0]
	if !ok {
		return fmt.Errorf("simulate: table has no polarization 0")
	}
	if len(ants) < 2 {
		return fmt.Errorf("simulate: need at least two antennas, have %d", len(ants))
	}
	if cfg.MaxUV == 0 {
		cfg.MaxUV = 1000
	}

	var rng fastrand.RNG
	rng.Seed(cfg.Seed)
	uniform := func() float64 { return float64(rng.Uint32()) / float64(math.MaxUint32) }
	gauss := func() float64 {
		u1 := uniform()
		if u1 < 1e-12 {
			u1 = 1e-12
		}
		return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*uniform())
	}

	var pairs [][2]int32
	for a := 0; a < len(ants); a++ {
		for b := a + 1; b < len(ants); b++ {
			pairs = append(pairs, [2]int32{int32(a), int32(b)})
		}
	}

	nchan, ncorr := spw.NumChan, pol.NumCorr
	vis := make([]Vis, cfg.Rows)
	for i := range vis {
		pair := pairs[i%len(pairs)]
		uvw := [3]float64{
			(2*uniform() - 1) * cfg.MaxUV,
			(2*uniform() - 1) * cfg.MaxUV,
			(2*uniform() - 1) * cfg.MaxW,
		}
		data := make([]complex64, nchan*ncorr)
		for c := 0; c < nchan; c++ {
			for p := 0; p < ncorr; p++ {
				re := cfg.Flux + cfg.Noise*gauss()
				im := cfg.Noise * gauss()
				data[c*ncorr+p] = complex(float32(re), float32(im))
			}
		}
		vis[i] = Vis{
			UVW: uvw, Ant1: pair[0], Ant2: pair[1],
			Time: cfg.StartTime + float64(i/len(pairs))*10,
			Data: data, Weight: 1, Scan: 1,
		}
	}
	return AddVis(ctx, ms, nchan, ncorr, vis)
}

// PointSource returns the visibility of a unit-flux source offset (l, m)
// from the phase centre at frequency freq, ignoring the w term.
func PointSource(uvw [3]float64, freq, l, m float64) complex64 {
	phase := -2 * math.Pi * (uvw[0]*l + uvw[1]*m) * freq / speedOfLight
	s, c := math.Sincos(phase)
	return complex(float32(c), float32(s))
}
