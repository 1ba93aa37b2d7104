package uvbin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/msdb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GridInfoKeyword names the table keyword holding the grid record.
const GridInfoKeyword = "MSUVBIN"

// GridInfo is the grid record stored with a binned table.
type GridInfo struct {
	NX    int             `json:"nx"`
	NY    int             `json:"ny"`
	NChan int             `json:"nchan"`
	NPol  int             `json:"npol"`
	CSys  json.RawMessage `json:"csys"`
}

// ReadGridInfo returns the grid record of a binned table and its coordinate
// system. A table without the record gives ErrNotBinned.
func ReadGridInfo(ctx context.Context, ms *msdb.MS) (*GridInfo, *coordsys.System, error) {
	var info GridInfo
	found, err := ms.Keyword(ctx, GridInfoKeyword, &info)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("%s: %w", ms.Path(), ErrNotBinned)
	}
	cs, err := coordsys.Restore(info.CSys)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", ms.Path(), err)
	}
	return &info, cs, nil
}

// createOutputMS opens the output. An existing table must carry a grid record
// matching the requested shape, and its coordinate system replaces the one
// just built. Otherwise a table of nx·ny flagged, zero rows is created and
// its sub-tables filled.
func (b *Binner) createOutputMS(ctx context.Context) error {
	if msdb.IsReadable(b.outPath) {
		if err := b.recoverGridInfo(ctx); err != nil {
			return err
		}
		out, err := msdb.Open(b.outPath, msdb.ModeUpdate)
		if err != nil {
			return err
		}
		b.out = out
		b.existOut = true
		b.state = StateOutputRecovered
		monitoring.Logf("[UVBin] recovered grid record from %s", b.outPath)
		return nil
	}

	b.existOut = false
	out, err := msdb.Create(b.outPath)
	if err != nil {
		return err
	}
	b.out = out
	if err := b.fillNewMS(ctx); err != nil {
		out.Close()
		b.out = nil
		return fmt.Errorf("create %s: %w", b.outPath, err)
	}
	b.state = StateOutputCreated
	return nil
}

// recoverGridInfo validates the grid record of the existing output against
// the request, reading it without write access.
func (b *Binner) recoverGridInfo(ctx context.Context) error {
	ms, err := msdb.Open(b.outPath, msdb.ModeOld)
	if err != nil {
		return err
	}
	defer ms.Close()
	info, cs, err := ReadGridInfo(ctx, ms)
	if err != nil {
		return err
	}
	want := b.spec.NX * b.spec.NY
	if got := info.NX * info.NY; got != want {
		return fmt.Errorf("%w: number of grid points requested %d does not match %d in output %s",
			ErrGridMismatch, want, got, b.outPath)
	}
	if info.NX != b.spec.NX || info.NY != b.spec.NY || info.NChan != b.spec.NChan || info.NPol != b.spec.NPol {
		return fmt.Errorf("%w: requested %d×%d×%d×%d does not match %d×%d×%d×%d in output %s", ErrGridMismatch,
			b.spec.NX, b.spec.NY, b.spec.NChan, b.spec.NPol, info.NX, info.NY, info.NChan, info.NPol, b.outPath)
	}
	nrows, err := ms.NRows(ctx)
	if err != nil {
		return err
	}
	if nrows != int64(want) {
		return fmt.Errorf("%w: output %s has %d rows, want %d", ErrGridMismatch, b.outPath, nrows, want)
	}
	b.csys = cs
	return nil
}

// storeGridInfo writes the grid record to the output.
func (b *Binner) storeGridInfo(ctx context.Context) error {
	raw, err := b.csys.Save()
	if err != nil {
		return err
	}
	return b.out.DefineKeyword(ctx, GridInfoKeyword, GridInfo{
		NX: b.spec.NX, NY: b.spec.NY, NChan: b.spec.NChan, NPol: b.spec.NPol, CSys: raw,
	})
}

// setTileCache shrinks the page cache of the output and every input, which
// are read in alternation.
func (b *Binner) setTileCache(ctx context.Context) error {
	if err := b.out.SetTileCache(ctx, tileCacheKiB); err != nil {
		return err
	}
	for _, in := range b.inputs {
		if err := in.MS.SetTileCache(ctx, tileCacheKiB); err != nil {
			return err
		}
	}
	return nil
}

// fillNewMS writes nx·ny fully flagged rows addressed by makeUVW and the
// sub-tables.
func (b *Binner) fillNewMS(ctx context.Context) error {
	nchan, npol := b.spec.NChan, b.spec.NPol
	uvw, valid := b.makeUVW(b.csys.Spectral.RefFreq)
	if valid < len(uvw) {
		monitoring.Warnf("UVBin", "%d of %d grid cells have no uv coordinate", len(uvw)-valid, len(uvw))
	}
	err := b.out.FillRows(ctx, int64(len(uvw)), func(i int64, r *msdb.Row) {
		r.UVW = uvw[i]
		r.FlagRow = true
		r.StateID = -1
		r.Data = make([]complex64, nchan*npol)
		r.Flag = make([]bool, nchan*npol)
		for k := range r.Flag {
			r.Flag[k] = true
		}
		r.Weight = make([]float32, npol)
		r.Sigma = make([]float32, npol)
		r.WeightSpectrum = make([]float32, nchan*npol)
	}, nil)
	if err != nil {
		return err
	}
	return b.fillSubTables(ctx)
}

// fillSubTables writes the synthetic FIELD and the spectral, polarization and
// data description tables, and copies the array description from the first
// input.
func (b *Binner) fillSubTables(ctx context.Context) error {
	in := b.inputs[0].MS
	for _, name := range []string{"antenna", "feed", "observation"} {
		if err := b.out.CopySubTable(ctx, in, name, false); err != nil {
			return err
		}
	}
	if err := b.out.CopySubTable(ctx, in, "pointing", true); err != nil {
		return err
	}

	fields, err := in.Fields(ctx)
	if err != nil {
		return err
	}
	f := msdb.Field{ID: 0, Name: "UVGRID", Frame: b.csys.Direction.Ref.Frame, SourceID: -1}
	if len(fields) > 0 {
		f.Name, f.Code, f.Time, f.SourceID = fields[0].Name, fields[0].Code, fields[0].Time, fields[0].SourceID
	}
	ref := b.csys.Direction.Ref
	dir := [2]float64{ref.Lon.Rad(), ref.Lat.Rad()}
	f.DelayDir, f.PhaseDir, f.ReferenceDir = dir, dir, dir
	if err := b.out.PutField(ctx, f); err != nil {
		return err
	}
	return b.fillDDTables(ctx)
}

// fillDDTables writes one spectral window, one polarization and the data
// description linking them.
func (b *Binner) fillDDTables(ctx context.Context) error {
	nchan, npol := b.spec.NChan, b.spec.NPol
	spec := b.csys.Spectral
	freqs := make([]float64, nchan)
	widths := make([]float64, nchan)
	bw := make([]float64, nchan)
	for c := range freqs {
		freqs[c] = spec.ToWorld(float64(c))
		widths[c] = spec.Step
		bw[c] = math.Abs(spec.Step)
	}
	if err := b.out.PutSpectralWindow(ctx, msdb.SpectralWindow{
		ID: 0, Name: "none", NumChan: nchan,
		ChanFreq: freqs, ChanWidth: widths, EffectiveBW: bw, Resolution: bw,
		RefFrequency:   freqs[0],
		TotalBandwidth: math.Abs(float64(nchan) * spec.Step),
		NetSideband:    1,
		MeasFreqRef:    spec.Frame,
	}); err != nil {
		return err
	}

	corrType := make([]int, npol)
	for i, s := range b.csys.Stokes {
		corrType[i] = int(s)
	}
	if err := b.out.PutPolarization(ctx, msdb.Polarization{
		ID: 0, NumCorr: npol, CorrType: corrType, CorrProduct: corrProduct(npol),
	}); err != nil {
		return err
	}
	return b.out.PutDataDescription(ctx, msdb.DataDescription{ID: 0, SpectralWindowID: 0, PolarizationID: 0})
}

// corrProduct is the receptor pairing of an npol Stokes axis.
func corrProduct(npol int) [][2]int {
	switch npol {
	case 4:
		return [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	case 2:
		return [][2]int{{0, 0}, {1, 1}}
	default:
		return [][2]int{{0, 0}}
	}
}

// weightSync derives WEIGHT, per polarization, from the weight spectrum of
// every output row: the maximum over channels for convolutional gridding,
// the median otherwise. SIGMA is 1/sqrt(WEIGHT), or zero.
func (b *Binner) weightSync(ctx context.Context, useMax bool) error {
	nchan, npol := b.spec.NChan, b.spec.NPol
	vals := make([]float64, nchan)
	return b.updateOutput(ctx, true, func(rows []msdb.Row) error {
		for i := range rows {
			r := &rows[i]
			if len(r.WeightSpectrum) != nchan*npol {
				return fmt.Errorf("output row %d has %d weight spectrum cells, want %d",
					r.ID, len(r.WeightSpectrum), nchan*npol)
			}
			if len(r.Weight) != npol {
				r.Weight = make([]float32, npol)
			}
			if len(r.Sigma) != npol {
				r.Sigma = make([]float32, npol)
			}
			for p := 0; p < npol; p++ {
				for c := 0; c < nchan; c++ {
					vals[c] = float64(r.WeightSpectrum[c*npol+p])
				}
				w := robustWeight(vals, useMax)
				r.Weight[p] = float32(w)
				r.Sigma[p] = 0
				if w > 0 {
					r.Sigma[p] = float32(1 / math.Sqrt(w))
				}
			}
		}
		return nil
	})
}

// robustWeight is the maximum or the (empirical) median of vals.
func robustWeight(vals []float64, useMax bool) float64 {
	if useMax {
		return floats.Max(vals)
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
