package uvbin

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/visbuf"
	"github.com/banshee-data/uvbin/internal/wproj"
)

// CorrectionKeyword holds the image-domain taper correction of a
// w-projection grid, nx×ny values laid out [y][x].
const CorrectionKeyword = "MSUVBIN_CORRECTION"

// fillConvOutputMS grids with w-projection kernels. Kernels are built from
// the w of every selected row first; each channel pass then accumulates
// unnormalised sums and divides them at the end of the pass.
func (b *Binner) fillConvOutputMS(ctx context.Context, it *visbuf.Iterator) error {
	cf, err := b.buildConvFunc(ctx, it)
	if err != nil {
		return err
	}
	if err := b.out.DefineKeyword(ctx, CorrectionKeyword, cf.Correction); err != nil {
		return fmt.Errorf("store correction: %w", err)
	}
	per := b.usableNchan(convCellBytes)
	passes := (b.spec.NChan + per - 1) / per
	monitoring.Logf("[UVBin] w-projection gridding, %d w-planes, %d channel(s) per pass, %d pass(es)",
		cf.Planes, per, passes)
	meter := monitoring.NewProgressMeter("UVBin", it.TotalRows()*int64(passes), b.clock)

	meta := newRowMeta(b.spec.NX * b.spec.NY)
	for lo := 0; lo < b.spec.NChan; lo += per {
		hi := min(lo+per, b.spec.NChan)
		c, err := b.loadCube(ctx, lo, hi, meta, true)
		if err != nil {
			return err
		}
		err = b.sweep(ctx, it, meter, func(vb *visbuf.Buffer, m ddMap) error {
			return b.convGridData(ctx, c, vb, m, cf)
		})
		if err != nil {
			return err
		}
		for i := range c.planes {
			c.planes[i].normalize()
		}
		if err := b.storeCube(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// buildConvFunc collects the rotated w of every unflagged selected row and
// the highest mapped frequency, then synthesises the kernels.
func (b *Binner) buildConvFunc(ctx context.Context, it *visbuf.Iterator) (*wproj.ConvFunc, error) {
	var ws []float64
	maxFreq := 0.0
	err := b.sweep(ctx, it, nil, func(vb *visbuf.Buffer, m ddMap) error {
		for ich, oc := range m.chanMap {
			if oc >= 0 && vb.Freq[ich] > maxFreq {
				maxFreq = vb.Freq[ich]
			}
		}
		rot := b.rotation(vb.PhaseDir)
		for r := 0; r < vb.NRows; r++ {
			if vb.FlagRow[r] {
				continue
			}
			uvw, _ := rot.Apply(vb.UVW[r])
			ws = append(ws, uvw[2])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if maxFreq == 0 {
		maxFreq = b.csys.Spectral.RefFreq
	}
	inc := b.csys.Direction.Increment()
	return wproj.Build(ctx, wproj.Params{
		Ws:          ws,
		MaxFreq:     maxFreq,
		NX:          b.spec.NX,
		NY:          b.spec.NY,
		CellX:       inc[0],
		CellY:       inc[1],
		Planes:      b.spec.WPlanes,
		Padding:     b.spec.Padding,
		NChan:       b.spec.NChan,
		MemTotalKiB: b.memTotalKiB(),
		Workers:     b.spec.Workers,
	})
}

// footprint is the kernel window of one sample: the nearest cell, the
// oversampled offset into the kernel, the w-plane and its support.
type footprint struct {
	locu, locv int
	offU, offV int
	iw, sup    int
	conj       bool
}

// footprintOf places a rotated uvw at frequency f. ok is false when the
// nearest cell lies off the grid.
func (b *Binner) footprintOf(cf *wproj.ConvFunc, uvw [3]float64, f float64) (fp footprint, ok bool) {
	pu, pv := b.grid.position(uvw[0], uvw[1], f)
	fp.locu, fp.locv = int(math.Floor(pu+0.5)), int(math.Floor(pv+0.5))
	if !b.grid.inside(fp.locu, fp.locv) {
		return fp, false
	}
	over := float64(cf.Oversampling)
	fp.offU = int(math.Round((float64(fp.locu) - pu) * over))
	fp.offV = int(math.Round((float64(fp.locv) - pv) * over))
	fp.iw = cf.PlaneFor(uvw[2], f)
	fp.sup = cf.Support[fp.iw]
	fp.conj = uvw[2] > 0
	return fp, true
}

// claimFootprints hands the provenance of every cell under a usable sample's
// kernel window to the first buffer row that covers it.
func (b *Binner) claimFootprints(c *cube, vb *visbuf.Buffer, m ddMap, p placement, cf *wproj.ConvFunc) {
	nx, ny := b.spec.NX, b.spec.NY
	refFreq := b.csys.Spectral.RefFreq
	for _, pr := range p.rows {
		for _, chs := range p.chans {
			for _, ich := range chs {
				if !usable(vb, m, pr.row, ich) {
					continue
				}
				f := refFreq
				if p.wide {
					f = vb.Freq[ich]
				}
				fp, ok := b.footprintOf(cf, pr.uvw, f)
				if !ok {
					continue
				}
				for y := max(fp.locv-fp.sup, 0); y <= min(fp.locv+fp.sup, ny-1); y++ {
					for x := max(fp.locu-fp.sup, 0); x <= min(fp.locu+fp.sup, nx-1); x++ {
						c.meta.claim(y*nx+x, vb, pr.row, pr.uvw[2])
					}
				}
			}
		}
	}
}

// convGridData spreads one buffer over kernel footprints. Each pass channel
// is accumulated by its own worker into its own plane; the kernels are shared
// read-only.
func (b *Binner) convGridData(ctx context.Context, c *cube, vb *visbuf.Buffer, m ddMap, cf *wproj.ConvFunc) error {
	p := b.place(vb, m, c.lo, c.lo+len(c.planes), nil)
	if len(p.rows) == 0 {
		return nil
	}
	b.claimFootprints(c, vb, m, p, cf)
	npol, nx := c.npol, b.spec.NX
	refFreq := b.csys.Spectral.RefFreq
	return c.forEachChannel(ctx, b.spec.Workers, func(pl *chanPlane, rel int) {
		chs := p.chans[rel]
		if len(chs) == 0 {
			return
		}
		for _, pr := range p.rows {
			for _, ich := range chs {
				f := refFreq
				if p.wide {
					f = vb.Freq[ich]
				}
				fp, ok := b.footprintOf(cf, pr.uvw, f)
				if !ok {
					continue
				}
				ph := phasor(pr.dw, vb.Freq[ich])

				for corr, pol := range m.polMap {
					if pol < 0 {
						continue
					}
					idx := vb.Index(pr.row, ich, corr)
					w := float64(vb.Weight[pr.row][corr])
					if vb.Flag[idx] || w <= 0 {
						continue
					}
					vis := complex128(vb.Vis[idx]) * ph * complex(w, 0)
					for iy := -fp.sup; iy <= fp.sup; iy++ {
						y := fp.locv + iy
						if y < 0 || y >= b.spec.NY {
							continue
						}
						for ix := -fp.sup; ix <= fp.sup; ix++ {
							x := fp.locu + ix
							if x < 0 || x >= nx {
								continue
							}
							cw := complex128(cf.At(fp.iw, ix*cf.Oversampling+fp.offU, iy*cf.Oversampling+fp.offV))
							if fp.conj {
								cw = cmplx.Conj(cw)
							}
							k := (y*nx+x)*npol + pol
							pl.sum[k] += vis * cw
							pl.wsum[k] += w * real(cw)
						}
					}
				}
			}
		}
	})
}
