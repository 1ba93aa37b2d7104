package uvbin

import (
	"math"
	"strings"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/visbuf"
)

// ddMap maps one buffer's channels and correlations onto the grid.
type ddMap struct {
	chanMap []int // input channel → output channel, or -1
	polMap  []int // input correlation → output Stokes index, or -1
	fracBW  float64
}

// wide reports whether the buffer must be placed per channel.
func (m ddMap) wide() bool { return m.fracBW > wideBandThreshold }

// dataDescMap maps vb onto the output axes. ok is false when no channel or
// no correlation maps, or when the buffer's frequencies are in a frame other
// than the grid's, in which case the buffer contributes nothing.
func (b *Binner) dataDescMap(vb *visbuf.Buffer) (m ddMap, ok bool) {
	spec := b.csys.Spectral
	if vb.FreqFrame != "" && !strings.EqualFold(vb.FreqFrame, spec.Frame) {
		b.warnFrame(vb.FreqFrame, spec.Frame)
		return m, false
	}
	m.chanMap = make([]int, vb.NChan)
	anyChan := false
	for ch := 0; ch < vb.NChan; ch++ {
		f := vb.Freq[ch]
		pix := int(math.Floor(spec.ToPixel(f) + 0.5))
		if pix < 0 || pix >= b.spec.NChan {
			m.chanMap[ch] = -1
			continue
		}
		m.chanMap[ch] = pix
		anyChan = true
		centre := spec.ToWorld(float64(pix))
		if fb := math.Abs(f-centre) / centre; fb > m.fracBW {
			m.fracBW = fb
		}
	}

	m.polMap = polMap(vb.CorrTypes, vb.CorrSelected, b.csys.Stokes)
	anyPol := false
	for _, p := range m.polMap {
		if p >= 0 {
			anyPol = true
			break
		}
	}
	return m, anyChan && anyPol
}

// warnFrame logs a skipped frequency frame once per run.
func (b *Binner) warnFrame(frame, grid string) {
	if b.skippedFrames == nil {
		b.skippedFrames = make(map[string]bool)
	}
	key := strings.ToUpper(frame)
	if b.skippedFrames[key] {
		return
	}
	b.skippedFrames[key] = true
	monitoring.Warnf("UVBin", "skipping data with %s frequencies; the grid is %s", key, grid)
}

// polMap maps input correlations onto the output Stokes axis by type. When
// nothing maps by type, as with a basis other than the grid's, the positional
// layout of the correlations is used instead. Deselected correlations map
// to -1.
func polMap(in []coordsys.Stokes, selected []bool, out []coordsys.Stokes) []int {
	pm := make([]int, len(in))
	mapped := false
	for i, s := range in {
		pm[i] = coordsys.IndexOf(out, s)
		if pm[i] >= 0 {
			mapped = true
		}
	}
	if !mapped {
		positionalPolMap(pm, len(out))
	}
	for i := range pm {
		if i < len(selected) && !selected[i] {
			pm[i] = -1
		}
	}
	return pm
}

// positionalPolMap fills pm assuming the usual [p,q] correlation orders:
// parallel hands first and last.
func positionalPolMap(pm []int, npol int) {
	for i := range pm {
		pm[i] = -1
	}
	ncorr := len(pm)
	if ncorr == 0 {
		return
	}
	switch npol {
	case 4:
		switch ncorr {
		case 4:
			for i := range pm {
				pm[i] = i
			}
		case 2:
			pm[0], pm[1] = 0, 3
		default:
			pm[0] = 0
		}
	case 2:
		switch ncorr {
		case 4:
			pm[0], pm[3] = 0, 1
		case 2:
			pm[0], pm[1] = 0, 1
		default:
			pm[0] = 0
		}
	default:
		pm[0] = 0
	}
}
