package uvbin

import (
	"context"

	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/visbuf"
)

// fillBigOutputMS grids straight into the output table, one buffer at a
// time, without holding the cube in memory.
func (b *Binner) fillBigOutputMS(ctx context.Context, it *visbuf.Iterator) error {
	monitoring.Logf("[UVBin] in-place gridding into %s", b.outPath)
	meter := monitoring.NewProgressMeter("UVBin", it.TotalRows(), b.clock)
	return b.sweep(ctx, it, meter, func(vb *visbuf.Buffer, m ddMap) error {
		return b.inplaceGridData(ctx, vb, m)
	})
}

// hit is one (buffer row, input channel) landing on an output row.
type hit struct {
	pr   *placedRow
	ich  int
	oc   int
	slot int
}

// inplaceGridData reads every output row the buffer touches once, folds the
// buffer into them and writes the group back in one transaction.
func (b *Binner) inplaceGridData(ctx context.Context, vb *visbuf.Buffer, m ddMap) error {
	p := b.place(vb, m, 0, b.spec.NChan, nil)
	if len(p.rows) == 0 {
		return nil
	}

	rowToIndex := make(map[int64]int)
	var ids []int64
	var hits []hit
	for i := range p.rows {
		pr := &p.rows[i]
		for oc, chs := range p.chans {
			for _, ich := range chs {
				cell := pr.cell
				if p.wide {
					cell = b.grid.cell(pr.uvw[0], pr.uvw[1], vb.Freq[ich])
					if cell < 0 {
						continue
					}
				}
				id := int64(cell)
				slot, ok := rowToIndex[id]
				if !ok {
					slot = len(ids)
					rowToIndex[id] = slot
					ids = append(ids, id)
				}
				hits = append(hits, hit{pr: pr, ich: ich, oc: oc, slot: slot})
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := b.out.GetRows(ctx, ids)
	if err != nil {
		return err
	}
	npol, nchan := b.spec.NPol, b.spec.NChan
	for i := range rows {
		if err := checkCells(&rows[i], nchan, npol); err != nil {
			return err
		}
	}
	for _, h := range hits {
		out := &rows[h.slot]
		r := h.pr.row
		if out.FlagRow && usable(vb, m, r, h.ich) {
			out.FlagRow = false
			out.Antenna1, out.Antenna2 = vb.Ant1[r], vb.Ant2[r]
			out.Time, out.TimeCentroid = vb.Time[r], vb.Time[r]
			out.UVW[2] = h.pr.uvw[2]
		}
		ph := phasor(h.pr.dw, vb.Freq[h.ich])
		for corr, pol := range m.polMap {
			if pol < 0 {
				continue
			}
			idx := vb.Index(r, h.ich, corr)
			w := float64(vb.Weight[r][corr])
			if vb.Flag[idx] || w <= 0 {
				continue
			}
			foldRow(out, h.oc*npol+pol, complex128(vb.Vis[idx])*ph, w)
		}
	}
	return b.out.PutRows(ctx, rows)
}

// foldRow applies the running weighted mean to cell k of an output row.
func foldRow(r *msdb.Row, k int, vis complex128, w float64) {
	oldW := float64(r.WeightSpectrum[k])
	newW := oldW + w
	mean := (complex128(r.Data[k])*complex(oldW, 0) + vis*complex(w, 0)) / complex(newW, 0)
	r.Data[k] = complex64(mean)
	r.WeightSpectrum[k] = float32(newW)
	r.Flag[k] = false
}
