package export

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/msselect"
	"github.com/banshee-data/uvbin/internal/mstest"
	"github.com/banshee-data/uvbin/internal/uvbin"
	"github.com/soniakeys/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	monitoring.SetLogger(nil)
}

// binnedTable grids a small simulated observation onto an 8×8×2×2 table.
func binnedTable(t *testing.T) *msdb.MS {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	phase := coordsys.Direction{Frame: "J2000", Lon: unit.AngleFromDeg(83.6), Lat: unit.AngleFromDeg(22.0)}

	in, err := mstest.Create(ctx, filepath.Join(dir, "in.ms"), mstest.Config{
		NAnt:     6,
		SPWs:     []mstest.SPW{{NChan: 2, FreqStart: 1.4e9, FreqStep: 1e6}},
		Corr:     []coordsys.Stokes{coordsys.XX, coordsys.YY},
		PhaseDir: phase,
	})
	require.NoError(t, err)
	require.NoError(t, mstest.Simulate(ctx, in, mstest.SimConfig{Rows: 60, MaxUV: 250, Flux: 2, Seed: 4}))
	require.NoError(t, in.Close())

	b, err := uvbin.New(uvbin.GridSpec{
		PhaseCenter: phase, NX: 8, NY: 8, NChan: 2, NPol: 2,
		CellX: unit.AngleFromMin(1), CellY: unit.AngleFromMin(1),
		FreqStart: 1.4e9, FreqStep: 1e6,
	})
	require.NoError(t, err)
	defer b.Close()
	ok, err := b.SelectData(ctx, filepath.Join(dir, "in.ms"), msselect.Selection{})
	require.NoError(t, err)
	require.True(t, ok)
	out := filepath.Join(dir, "grid.ms")
	b.SetOutputMS(out)
	require.NoError(t, b.FillOutputMS(ctx, false))

	ms, err := msdb.Open(out, msdb.ModeOld)
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close() })
	return ms
}

func TestLoadCube(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := binnedTable(t)
	c, err := LoadCube(ctx, ms)
	require.NoError(t, err)
	assert.Equal(t, [4]int{8, 8, 2, 2}, [4]int{c.NX, c.NY, c.NChan, c.NPol})
	assert.Equal(t, []coordsys.Stokes{coordsys.XX, coordsys.YY}, c.CSys.Stokes)
	require.Len(t, c.Data, 8*8*2*2)

	rows, err := ms.GetColumnRange(ctx, 0, 64)
	require.NoError(t, err)
	for cell, r := range rows {
		x, y := cell%8, cell/8
		for ch := 0; ch < 2; ch++ {
			for p := 0; p < 2; p++ {
				idx := c.Index(x, y, ch, p)
				assert.Equal(t, r.Data[ch*2+p], c.Data[idx])
				assert.Equal(t, r.WeightSpectrum[ch*2+p], c.Weight[idx])
				assert.Equal(t, r.Flag[ch*2+p] || r.FlagRow, c.Flag[idx])
			}
		}
	}

	var total float64
	for _, w := range c.Weight {
		total += float64(w)
	}
	// 60 rows × 2 channels × 2 correlations at unit weight, all on the grid.
	assert.InDelta(t, 240, total, 1e-6)
	cw := c.ChannelWeight()
	assert.InDelta(t, 60, cw[0][0], 1e-6)
	assert.InDelta(t, 60, cw[1][1], 1e-6)
}

func TestLoadCubeRejectsUnbinnedTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plain.ms")
	ms, err := mstest.Create(ctx, path, mstest.Config{})
	require.NoError(t, err)
	defer ms.Close()
	_, err = LoadCube(ctx, ms)
	assert.ErrorIs(t, err, uvbin.ErrNotBinned)
}

func TestWriteFITS(t *testing.T) {
	t.Parallel()
	c, err := LoadCube(context.Background(), binnedTable(t))
	require.NoError(t, err)

	for _, q := range []Quantity{Amplitude, Phase, Weight} {
		q := q
		t.Run(q.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFITS(&buf, c, q))

			f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer f.Close()
			img, ok := f.HDU(0).(fitsio.Image)
			require.True(t, ok)
			assert.Equal(t, []int{8, 8, 2, 2}, img.Header().Axes())
			assert.Equal(t, "STOKES", img.Header().Get("CTYPE3").Value)
			assert.Equal(t, "FREQ", img.Header().Get("CTYPE4").Value)
			assert.Equal(t, "XX", img.Header().Get("POL1").Value)

			var pix []float32
			require.NoError(t, img.Read(&pix))
			require.Len(t, pix, len(c.Data))
			for i := range pix {
				switch {
				case q == Weight:
					assert.Equal(t, c.Weight[i], pix[i])
				case c.Flag[i]:
					assert.True(t, math.IsNaN(float64(pix[i])))
				case q == Amplitude:
					assert.InDelta(t, 2, pix[i], 1e-5)
				default:
					assert.InDelta(t, 0, pix[i], 1e-5)
				}
			}
		})
	}
}

func TestParseQuantity(t *testing.T) {
	t.Parallel()
	q, err := ParseQuantity("weight")
	require.NoError(t, err)
	assert.Equal(t, Weight, q)
	_, err = ParseQuantity("power")
	assert.Error(t, err)
}

func TestPlotUVCoverage(t *testing.T) {
	t.Parallel()
	c, err := LoadCube(context.Background(), binnedTable(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cover.png")
	require.NoError(t, PlotUVCoverage(c, path, true))
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	empty := *c
	empty.Weight = make([]float32, len(c.Weight))
	assert.Error(t, PlotUVCoverage(&empty, filepath.Join(t.TempDir(), "empty.png"), false))
}

func TestWriteWeightSpectrumHTML(t *testing.T) {
	t.Parallel()
	c, err := LoadCube(context.Background(), binnedTable(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteWeightSpectrumHTML(&buf, c, "grid.ms", ""))
	html := buf.String()
	assert.True(t, strings.HasPrefix(strings.TrimSpace(html), "<!DOCTYPE html>") || strings.Contains(html, "<html"))
	assert.Contains(t, html, "Weight spectrum")
	assert.Contains(t, html, "XX")
	assert.Contains(t, html, "YY")
	assert.Contains(t, html, "1.4000")
}
