package uvbin

import (
	"context"
	"fmt"

	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/visbuf"
	"golang.org/x/sync/errgroup"
)

// Bytes held per (cell, pol, chan) by the running-mean cube: data, weight
// spectrum and flag. The convolutional path adds float64 sums.
const (
	directCellBytes = 8 + 4 + 1
	convCellBytes   = directCellBytes + 16 + 8
)

// chanPlane is one output channel of the in-memory cube, laid out [cell][pol].
type chanPlane struct {
	data []complex64
	wt   []float32
	flag []bool

	// Unnormalised sums of the convolutional path.
	sum  []complex128
	wsum []float64
}

// add folds vis with weight w into cell k as a running weighted mean.
func (p *chanPlane) add(k int, vis complex128, w float64) {
	oldW := float64(p.wt[k])
	newW := oldW + w
	mean := (complex128(p.data[k])*complex(oldW, 0) + vis*complex(w, 0)) / complex(newW, 0)
	p.data[k] = complex64(mean)
	p.wt[k] = float32(newW)
	p.flag[k] = false
}

// normalize divides the convolutional sums by the accumulated convolution
// weight. Cells with no positive weight end zeroed and flagged.
func (p *chanPlane) normalize() {
	for k := range p.sum {
		if p.wsum[k] > 0 {
			p.data[k] = complex64(p.sum[k] / complex(p.wsum[k], 0))
			p.wt[k] = float32(p.wsum[k])
			p.flag[k] = false
			continue
		}
		p.data[k] = 0
		p.wt[k] = 0
		p.flag[k] = true
	}
}

// rowMeta is the per-cell row provenance, shared by all channels.
type rowMeta struct {
	loaded  bool
	flagRow []bool
	ant1    []int32
	ant2    []int32
	time    []float64
	w       []float64
}

func newRowMeta(ncells int) *rowMeta {
	return &rowMeta{
		flagRow: make([]bool, ncells),
		ant1:    make([]int32, ncells),
		ant2:    make([]int32, ncells),
		time:    make([]float64, ncells),
		w:       make([]float64, ncells),
	}
}

// claim records row r of vb as the provenance of cell unless an earlier
// unflagged row already did.
func (m *rowMeta) claim(cell int, vb *visbuf.Buffer, r int, w float64) {
	if m == nil || !m.flagRow[cell] {
		return
	}
	m.flagRow[cell] = false
	m.ant1[cell] = vb.Ant1[r]
	m.ant2[cell] = vb.Ant2[r]
	m.time[cell] = vb.Time[r]
	m.w[cell] = w
}

// cube holds output channels [lo, lo+len(planes)) of every cell.
type cube struct {
	lo     int
	npol   int
	planes []chanPlane
	meta   *rowMeta
}

// forEachChannel calls fn once per plane of the pass on up to workers
// goroutines. Each call owns its plane, so no two calls touch the same memory.
func (c *cube) forEachChannel(ctx context.Context, workers int, fn func(pl *chanPlane, rel int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range c.planes {
		i := i
		pl := &c.planes[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(pl, i)
			return nil
		})
	}
	return g.Wait()
}

// placedRow is an unflagged buffer row rotated to the grid phase centre.
type placedRow struct {
	row  int
	uvw  [3]float64
	dw   float64
	cell int // shared cell of narrow-band buffers
}

// placement is the serial part of gridding a buffer: the rotated rows and the
// input channels feeding each pass channel.
type placement struct {
	rows  []placedRow
	chans [][]int // input channels per pass channel
	wide  bool
}

// place rotates and locates the rows of vb for pass channels [lo, hi) and
// claims provenance in meta, which may be nil.
func (b *Binner) place(vb *visbuf.Buffer, m ddMap, lo, hi int, meta *rowMeta) placement {
	p := placement{wide: m.wide(), chans: make([][]int, hi-lo)}
	mapped := false
	for ich, oc := range m.chanMap {
		if oc >= lo && oc < hi {
			p.chans[oc-lo] = append(p.chans[oc-lo], ich)
			mapped = true
		}
	}
	if !mapped {
		return p
	}
	refFreq := b.csys.Spectral.RefFreq
	rot := b.rotation(vb.PhaseDir)
	for r := 0; r < vb.NRows; r++ {
		if vb.FlagRow[r] {
			continue
		}
		uvw, dw := rot.Apply(vb.UVW[r])
		pr := placedRow{row: r, uvw: uvw, dw: dw, cell: -1}
		if !p.wide {
			pr.cell = b.grid.cell(uvw[0], uvw[1], refFreq)
			if pr.cell < 0 || !p.rowUsable(vb, m, r) {
				continue
			}
			meta.claim(pr.cell, vb, r, uvw[2])
			p.rows = append(p.rows, pr)
			continue
		}
		touched := false
		for _, chs := range p.chans {
			for _, ich := range chs {
				if !usable(vb, m, r, ich) {
					continue
				}
				if cell := b.grid.cell(uvw[0], uvw[1], vb.Freq[ich]); cell >= 0 {
					meta.claim(cell, vb, r, uvw[2])
					touched = true
				}
			}
		}
		if touched {
			p.rows = append(p.rows, pr)
		}
	}
	return p
}

// rowUsable reports whether row r has a usable sample in any pass channel.
func (p *placement) rowUsable(vb *visbuf.Buffer, m ddMap, r int) bool {
	for _, chs := range p.chans {
		for _, ich := range chs {
			if usable(vb, m, r, ich) {
				return true
			}
		}
	}
	return false
}

// usable reports whether row r has an unflagged, positively weighted sample
// of a mapped correlation in input channel ich.
func usable(vb *visbuf.Buffer, m ddMap, r, ich int) bool {
	for corr, pol := range m.polMap {
		if pol >= 0 && !vb.Flag[vb.Index(r, ich, corr)] && vb.Weight[r][corr] > 0 {
			return true
		}
	}
	return false
}

// gridData folds one buffer into the cube as running weighted means. Rows are
// placed serially, then each pass channel is accumulated by its own worker.
func (b *Binner) gridData(ctx context.Context, c *cube, vb *visbuf.Buffer, m ddMap) error {
	p := b.place(vb, m, c.lo, c.lo+len(c.planes), c.meta)
	if len(p.rows) == 0 {
		return nil
	}
	npol := c.npol
	return c.forEachChannel(ctx, b.spec.Workers, func(pl *chanPlane, rel int) {
		chs := p.chans[rel]
		if len(chs) == 0 {
			return
		}
		for _, pr := range p.rows {
			for _, ich := range chs {
				f := vb.Freq[ich]
				cell := pr.cell
				if p.wide {
					cell = b.grid.cell(pr.uvw[0], pr.uvw[1], f)
					if cell < 0 {
						continue
					}
				}
				ph := phasor(pr.dw, f)
				for corr, pol := range m.polMap {
					if pol < 0 {
						continue
					}
					idx := vb.Index(pr.row, ich, corr)
					w := float64(vb.Weight[pr.row][corr])
					if vb.Flag[idx] || w <= 0 {
						continue
					}
					pl.add(cell*npol+pol, complex128(vb.Vis[idx])*ph, w)
				}
			}
		}
	})
}

// fillSmallOutputMS grids in memory, in passes of as many channels as the
// memory budget allows. Each pass reads its channel slice of the output,
// sweeps all inputs and writes the slice back.
func (b *Binner) fillSmallOutputMS(ctx context.Context, it *visbuf.Iterator) error {
	per := b.usableNchan(directCellBytes)
	passes := (b.spec.NChan + per - 1) / per
	monitoring.Logf("[UVBin] in-memory gridding, %d channel(s) per pass, %d pass(es)", per, passes)
	meter := monitoring.NewProgressMeter("UVBin", it.TotalRows()*int64(passes), b.clock)

	meta := newRowMeta(b.spec.NX * b.spec.NY)
	for lo := 0; lo < b.spec.NChan; lo += per {
		hi := min(lo+per, b.spec.NChan)
		c, err := b.loadCube(ctx, lo, hi, meta, false)
		if err != nil {
			return err
		}
		err = b.sweep(ctx, it, meter, func(vb *visbuf.Buffer, m ddMap) error {
			return b.gridData(ctx, c, vb, m)
		})
		if err != nil {
			return err
		}
		if err := b.storeCube(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// loadCube reads channels [lo, hi) of every output row. The row provenance
// is read into meta on first use.
func (b *Binner) loadCube(ctx context.Context, lo, hi int, meta *rowMeta, conv bool) (*cube, error) {
	ncells, npol, nchan := b.spec.NX*b.spec.NY, b.spec.NPol, b.spec.NChan
	c := &cube{lo: lo, npol: npol, planes: make([]chanPlane, hi-lo), meta: meta}
	for i := range c.planes {
		pl := &c.planes[i]
		pl.data = make([]complex64, ncells*npol)
		pl.wt = make([]float32, ncells*npol)
		pl.flag = make([]bool, ncells*npol)
		if conv {
			pl.sum = make([]complex128, ncells*npol)
			pl.wsum = make([]float64, ncells*npol)
		}
	}
	err := b.updateOutput(ctx, false, func(rows []msdb.Row) error {
		for i := range rows {
			r := &rows[i]
			if err := checkCells(r, nchan, npol); err != nil {
				return err
			}
			cell := int(r.ID)
			for ch := lo; ch < hi; ch++ {
				pl := &c.planes[ch-lo]
				for p := 0; p < npol; p++ {
					src, dst := ch*npol+p, cell*npol+p
					pl.data[dst] = r.Data[src]
					pl.wt[dst] = r.WeightSpectrum[src]
					pl.flag[dst] = r.Flag[src]
					if conv && !r.Flag[src] {
						pl.wsum[dst] = float64(r.WeightSpectrum[src])
						pl.sum[dst] = complex128(r.Data[src]) * complex(pl.wsum[dst], 0)
					}
				}
			}
			if !meta.loaded {
				meta.flagRow[cell] = r.FlagRow
				meta.ant1[cell] = r.Antenna1
				meta.ant2[cell] = r.Antenna2
				meta.time[cell] = r.Time
				meta.w[cell] = r.UVW[2]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	meta.loaded = true
	return c, nil
}

// storeCube writes the cube's channels and the row provenance back. FLAG_ROW
// follows the cell flags, so it clears once any (chan, pol) holds data.
func (b *Binner) storeCube(ctx context.Context, c *cube) error {
	npol := c.npol
	return b.updateOutput(ctx, true, func(rows []msdb.Row) error {
		for i := range rows {
			r := &rows[i]
			cell := int(r.ID)
			for rel := range c.planes {
				pl := &c.planes[rel]
				ch := c.lo + rel
				for p := 0; p < npol; p++ {
					src, dst := cell*npol+p, ch*npol+p
					r.Data[dst] = pl.data[src]
					r.WeightSpectrum[dst] = pl.wt[src]
					r.Flag[dst] = pl.flag[src]
				}
			}
			m := c.meta
			r.FlagRow = allFlagged(r.Flag)
			r.Antenna1, r.Antenna2 = m.ant1[cell], m.ant2[cell]
			r.Time, r.TimeCentroid = m.time[cell], m.time[cell]
			r.UVW[2] = m.w[cell]
		}
		return nil
	})
}

// updateOutput visits every output row in blocks, writing each block back
// when write is set.
func (b *Binner) updateOutput(ctx context.Context, write bool, fn func(rows []msdb.Row) error) error {
	n := int64(b.spec.NX * b.spec.NY)
	for first := int64(0); first < n; first += ioBlockRows {
		rows, err := b.out.GetColumnRange(ctx, first, min(ioBlockRows, n-first))
		if err != nil {
			return err
		}
		if err := fn(rows); err != nil {
			return err
		}
		if write {
			if err := b.out.PutColumnRange(ctx, rows); err != nil {
				return err
			}
		}
	}
	return nil
}

// allFlagged reports whether every (chan, pol) cell of a row is flagged.
func allFlagged(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}

func checkCells(r *msdb.Row, nchan, npol int) error {
	n := nchan * npol
	if len(r.Data) != n || len(r.Flag) != n || len(r.WeightSpectrum) != n {
		return fmt.Errorf("output row %d has %d/%d/%d cells, want %d",
			r.ID, len(r.Data), len(r.Flag), len(r.WeightSpectrum), n)
	}
	return nil
}
