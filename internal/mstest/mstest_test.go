package mstest

import (
	"context"
	"math"
	"math/cmplx"
	"path/filepath"
	"testing"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWritesSubTables(t *testing.T) {
	ctx := context.Background()
	ms, err := Create(ctx, filepath.Join(t.TempDir(), "in.ms"), Config{
		NAnt: 3,
		SPWs: []SPW{{NChan: 2, FreqStart: 1e9, FreqStep: 1e6}, {NChan: 3, FreqStart: 2e9, FreqStep: -1e6}},
		Corr: []coordsys.Stokes{coordsys.XX, coordsys.XY, coordsys.YX, coordsys.YY},
	})
	require.NoError(t, err)
	defer ms.Close()

	spws, err := ms.SpectralWindows(ctx)
	require.NoError(t, err)
	require.Len(t, spws, 2)
	assert.Equal(t, []float64{2e9, 2e9 - 1e6, 2e9 - 2e6}, spws[1].ChanFreq)
	assert.Equal(t, 3e6, spws[1].TotalBandwidth)

	pols, err := ms.Polarizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 10, 11, 12}, pols[0].CorrType)
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, pols[0].CorrProduct)

	ants, err := ms.Antennas(ctx)
	require.NoError(t, err)
	assert.Len(t, ants, 3)
	fields, err := ms.Fields(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TARGET", fields[0].Name)
}

func TestAddVisShapes(t *testing.T) {
	ctx := context.Background()
	ms, err := Create(ctx, filepath.Join(t.TempDir(), "v.ms"), Config{})
	require.NoError(t, err)
	defer ms.Close()

	require.NoError(t, AddVis(ctx, ms, 4, 2, []Vis{{Value: 1 + 1i, Weight: 3}}))
	r, err := ms.GetRow(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, r.Data, 8)
	assert.Equal(t, complex64(1+1i), r.Data[7])
	assert.Equal(t, []float32{3, 3}, r.Weight)

	assert.Error(t, AddVis(ctx, ms, 4, 2, []Vis{{Data: make([]complex64, 3)}}))
}

func TestSimulateIsDeterministic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	run := func(name string) []complex64 {
		ms, err := Create(ctx, filepath.Join(dir, name), Config{})
		require.NoError(t, err)
		defer ms.Close()
		require.NoError(t, Simulate(ctx, ms, SimConfig{Rows: 12, Flux: 1, Noise: 0.1, Seed: 7}))
		n, err := ms.NRows(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(12), n)
		r, err := ms.GetRow(ctx, 11)
		require.NoError(t, err)
		assert.NotEqual(t, r.Antenna1, r.Antenna2)
		return r.Data
	}
	assert.Equal(t, run("a.ms"), run("b.ms"))
}

func TestPointSource(t *testing.T) {
	t.Parallel()
	v := PointSource([3]float64{100, 0, 0}, 1e9, 0, 0)
	assert.InDelta(t, 1, real(v), 1e-7)

	l := 1e-4
	v = PointSource([3]float64{100, 0, 0}, 1e9, l, 0)
	want := -2 * math.Pi * 100 * l * 1e9 / speedOfLight
	assert.InDelta(t, want, cmplx.Phase(complex128(v)), 1e-6)
}
