// Package export renders a binned table as a FITS cube, a uv-coverage image
// and an HTML chart of the weight spectrum.
package export

import (
	"context"
	"fmt"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/uvbin"
)

const loadBlockRows = 4096

// Cube is a binned table held in memory. Data, Weight and Flag are laid out
// [chan][pol][y][x].
type Cube struct {
	NX, NY, NChan, NPol int
	CSys                *coordsys.System
	Data                []complex64
	Weight              []float32
	Flag                []bool
}

// Index returns the offset of cell (x, y) in plane (ch, pol).
func (c *Cube) Index(x, y, ch, pol int) int {
	return ((ch*c.NPol+pol)*c.NY+y)*c.NX + x
}

// LoadCube reads every row of a binned table into a Cube.
func LoadCube(ctx context.Context, ms *msdb.MS) (*Cube, error) {
	info, cs, err := uvbin.ReadGridInfo(ctx, ms)
	if err != nil {
		return nil, err
	}
	n, err := ms.NRows(ctx)
	if err != nil {
		return nil, err
	}
	cells := int64(info.NX) * int64(info.NY)
	if n != cells {
		return nil, fmt.Errorf("%s has %d rows, grid record says %d×%d", ms.Path(), n, info.NX, info.NY)
	}
	c := &Cube{NX: info.NX, NY: info.NY, NChan: info.NChan, NPol: info.NPol, CSys: cs}
	size := info.NX * info.NY * info.NChan * info.NPol
	c.Data = make([]complex64, size)
	c.Weight = make([]float32, size)
	c.Flag = make([]bool, size)

	width := info.NChan * info.NPol
	for first := int64(0); first < n; first += loadBlockRows {
		rows, err := ms.GetColumnRange(ctx, first, min(loadBlockRows, n-first))
		if err != nil {
			return nil, err
		}
		for i, r := range rows {
			if len(r.Data) != width || len(r.WeightSpectrum) != width || len(r.Flag) != width {
				return nil, fmt.Errorf("row %d has %d cells, want %d", r.ID, len(r.Data), width)
			}
			cell := int(first) + i
			x, y := cell%info.NX, cell/info.NX
			for ch := 0; ch < info.NChan; ch++ {
				for p := 0; p < info.NPol; p++ {
					k := ch*info.NPol + p
					idx := c.Index(x, y, ch, p)
					c.Data[idx] = r.Data[k]
					c.Weight[idx] = r.WeightSpectrum[k]
					c.Flag[idx] = r.Flag[k] || r.FlagRow
				}
			}
		}
	}
	return c, nil
}

// ChannelWeight returns the summed weight of each (chan, pol) plane.
func (c *Cube) ChannelWeight() [][]float64 {
	out := make([][]float64, c.NChan)
	plane := c.NX * c.NY
	for ch := range out {
		out[ch] = make([]float64, c.NPol)
		for p := 0; p < c.NPol; p++ {
			start := c.Index(0, 0, ch, p)
			for _, w := range c.Weight[start : start+plane] {
				out[ch][p] += float64(w)
			}
		}
	}
	return out
}

// Coverage returns the weight of every (x, y) cell summed over channels and
// polarizations, laid out [y][x].
func (c *Cube) Coverage() []float64 {
	plane := c.NX * c.NY
	out := make([]float64, plane)
	for i, w := range c.Weight {
		out[i%plane] += float64(w)
	}
	return out
}
