package uvbin

import (
	"testing"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/visbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolMapIsTotalAndInjective(t *testing.T) {
	t.Parallel()
	inputs := map[string][]coordsys.Stokes{
		"circular4": {coordsys.RR, coordsys.RL, coordsys.LR, coordsys.LL},
		"circular2": {coordsys.RR, coordsys.LL},
		"circular1": {coordsys.RR},
		"linear4":   {coordsys.XX, coordsys.XY, coordsys.YX, coordsys.YY},
		"linear2":   {coordsys.XX, coordsys.YY},
		"linear1":   {coordsys.YY},
	}
	for name, in := range inputs {
		for _, npol := range []int{1, 2, 4} {
			for _, linearOut := range []bool{false, true} {
				out, err := coordsys.StokesFor(linearOut, npol)
				require.NoError(t, err)
				pm := polMap(in, nil, out)
				require.Len(t, pm, len(in), name)
				seen := map[int]bool{}
				mapped := 0
				for _, p := range pm {
					assert.True(t, p == -1 || (p >= 0 && p < npol), "%s npol=%d: %d out of range", name, npol, p)
					if p >= 0 {
						assert.False(t, seen[p], "%s npol=%d: %d mapped twice", name, npol, p)
						seen[p] = true
						mapped++
					}
				}
				assert.Positive(t, mapped, "%s npol=%d linear=%v maps nothing", name, npol, linearOut)
			}
		}
	}
}

func TestPolMapByTypeAndFallback(t *testing.T) {
	t.Parallel()
	circ4 := []coordsys.Stokes{coordsys.RR, coordsys.RL, coordsys.LR, coordsys.LL}
	lin4 := []coordsys.Stokes{coordsys.XX, coordsys.XY, coordsys.YX, coordsys.YY}
	outCirc2, _ := coordsys.StokesFor(false, 2)
	outCirc4, _ := coordsys.StokesFor(false, 4)

	tests := []struct {
		name     string
		in       []coordsys.Stokes
		selected []bool
		out      []coordsys.Stokes
		want     []int
	}{
		{"by type 4 to 2", circ4, nil, outCirc2, []int{0, -1, -1, 1}},
		{"by type 2 to 4", []coordsys.Stokes{coordsys.RR, coordsys.LL}, nil, outCirc4, []int{0, 3}},
		{"reordered input", []coordsys.Stokes{coordsys.LL, coordsys.RR}, nil, outCirc2, []int{1, 0}},
		{"other basis 4 to 2", lin4, nil, outCirc2, []int{0, -1, -1, 1}},
		{"other basis 4 to 4", lin4, nil, outCirc4, []int{0, 1, 2, 3}},
		{"other basis 2 to 4", []coordsys.Stokes{coordsys.XX, coordsys.YY}, nil, outCirc4, []int{0, 3}},
		{"deselected", circ4, []bool{true, true, true, false}, outCirc2, []int{0, -1, -1, -1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, polMap(tt.in, tt.selected, tt.out))
		})
	}
}

func mapperBinner(t *testing.T, nchan int, freqStart, step float64) *Binner {
	t.Helper()
	b, err := New(testSpec(16, 16, nchan, 2))
	require.NoError(t, err)
	b.spec.FreqStart, b.spec.FreqStep = freqStart, step
	stokes, _ := coordsys.StokesFor(false, 2)
	refPix := float64(nchan / 2)
	b.csys = coordsys.New(testPhase, 16, 16, b.spec.CellX, b.spec.CellY, stokes, coordsys.Spectral{
		Frame: coordsys.FrameLSRK, RefPix: refPix, RefFreq: freqStart + refPix*step, Step: step,
	})
	return b
}

func TestDataDescMapChannels(t *testing.T) {
	t.Parallel()
	b := mapperBinner(t, 4, 1.0e9, 1e6)
	vb := &visbuf.Buffer{
		NChan:     6,
		NCorr:     2,
		Freq:      []float64{0.9985e9, 1.0e9, 1.0006e9, 1.003e9, 1.0034e9, 1.01e9},
		CorrTypes: []coordsys.Stokes{coordsys.RR, coordsys.LL},
	}
	m, ok := b.dataDescMap(vb)
	require.True(t, ok)
	assert.Equal(t, []int{-1, 0, 1, 3, 3, -1}, m.chanMap)
	assert.Equal(t, []int{0, 1}, m.polMap)
	assert.InDelta(t, 0.4e6/1.001e9, m.fracBW, 1e-12)
	assert.False(t, m.wide())
}

func TestDataDescMapUnmappable(t *testing.T) {
	t.Parallel()
	b := mapperBinner(t, 2, 1.0e9, 1e6)

	_, ok := b.dataDescMap(&visbuf.Buffer{NChan: 1, NCorr: 1, Freq: []float64{2e9},
		CorrTypes: []coordsys.Stokes{coordsys.RR}})
	assert.False(t, ok, "no channel maps")

	_, ok = b.dataDescMap(&visbuf.Buffer{NChan: 1, NCorr: 1, Freq: []float64{1e9},
		CorrTypes: []coordsys.Stokes{coordsys.RR}, CorrSelected: []bool{false}})
	assert.False(t, ok, "no correlation maps")
}

func TestDataDescMapFractionalBandwidth(t *testing.T) {
	t.Parallel()
	const f0 = 1.4e9
	tests := []struct {
		name string
		rel  float64 // input bandwidth relative to f0
		step float64 // output channel width
		wide bool
	}{
		{"wide", 0.2, 0.25 * f0, true},
		{"narrow", 0.01, 0.02 * f0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b := mapperBinner(t, 1, f0, tt.step)
			vb := &visbuf.Buffer{NChan: 2, NCorr: 1,
				Freq:      []float64{f0 * (1 - tt.rel/2), f0 * (1 + tt.rel/2)},
				CorrTypes: []coordsys.Stokes{coordsys.RR}}
			m, ok := b.dataDescMap(vb)
			require.True(t, ok)
			assert.Equal(t, []int{0, 0}, m.chanMap)
			assert.InDelta(t, tt.rel/2, m.fracBW, 1e-9)
			assert.Equal(t, tt.wide, m.wide())
		})
	}
}

func TestDataDescMapFrequencyFrame(t *testing.T) {
	t.Parallel()
	b := mapperBinner(t, 2, 1.0e9, 1e6)
	vb := func(frame string) *visbuf.Buffer {
		return &visbuf.Buffer{NChan: 1, NCorr: 1, Freq: []float64{1e9}, FreqFrame: frame,
			CorrTypes: []coordsys.Stokes{coordsys.RR}}
	}

	for _, frame := range []string{"", "LSRK", "lsrk"} {
		_, ok := b.dataDescMap(vb(frame))
		assert.True(t, ok, "frame %q", frame)
	}
	for _, frame := range []string{"TOPO", "BARY", "REST"} {
		_, ok := b.dataDescMap(vb(frame))
		assert.False(t, ok, "frame %q", frame)
	}
	_, ok := b.dataDescMap(vb("topo"))
	assert.False(t, ok)
	assert.Equal(t, map[string]bool{"TOPO": true, "BARY": true, "REST": true}, b.skippedFrames)
}
