// Package visbuf iterates over selected rows of one or more measurement
// tables in buffers of bounded size, resolving each buffer's spectral
// window, correlations and phase direction.
package visbuf

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/msselect"
	"github.com/soniakeys/unit"
)

// DefaultRowsPerBuffer bounds buffer size when none is given.
const DefaultRowsPerBuffer = 10000

// Buffer is a block of rows sharing a data description and field. Vis is laid
// out [row][chan][corr].
type Buffer struct {
	NRows, NChan, NCorr int

	RowIDs  []int64
	UVW     [][3]float64
	Vis     []complex64
	Flag    []bool
	FlagRow []bool
	Weight  [][]float32
	Ant1    []int32
	Ant2    []int32
	Time    []float64

	Freq         []float64
	FreqFrame    string
	CorrTypes    []coordsys.Stokes
	CorrSelected []bool
	PhaseDir     coordsys.Direction

	DataDescID int32
	FieldID    int32
	// Source is the index of the input table in the iterator.
	Source int
}

// Index returns the offset of (row, chan, corr) in Vis and Flag.
func (b *Buffer) Index(row, ch, corr int) int {
	return (row*b.NChan+ch)*b.NCorr + corr
}

// Input is one selected table.
type Input struct {
	MS        *msdb.MS
	Selection *msselect.Compiled
}

type chunkInfo struct {
	source int
	chunk  msdb.Chunk
	freq   []float64
	frame  string
	corr   []coordsys.Stokes
	corrOn []bool
	dir    coordsys.Direction
}

// Iterator walks inputs in order, then chunks ordered by (data_desc_id,
// field_id), then rows ordered by time.
type Iterator struct {
	inputs        []Input
	rowsPerBuffer int
	useCorrected  []bool

	chunks []chunkInfo
	pos    int
	cursor msdb.Cursor
	total  int64
}

// NewIterator prepares chunk lists for every input. rowsPerBuffer <= 0 uses
// DefaultRowsPerBuffer.
func NewIterator(ctx context.Context, inputs []Input, rowsPerBuffer int) (*Iterator, error) {
	if rowsPerBuffer <= 0 {
		rowsPerBuffer = DefaultRowsPerBuffer
	}
	it := &Iterator{inputs: inputs, rowsPerBuffer: rowsPerBuffer, cursor: msdb.StartCursor}
	for i, in := range inputs {
		if err := it.addInput(ctx, i, in); err != nil {
			return nil, fmt.Errorf("input %s: %w", in.MS.Path(), err)
		}
	}
	return it, nil
}

func (it *Iterator) addInput(ctx context.Context, idx int, in Input) error {
	sel := in.Selection
	if sel == nil {
		sel = &msselect.Compiled{}
	}
	corrected, err := in.MS.HasCorrectedData(ctx)
	if err != nil {
		return err
	}
	it.useCorrected = append(it.useCorrected, corrected)

	dds, err := in.MS.DataDescriptions(ctx)
	if err != nil {
		return err
	}
	spws, err := in.MS.SpectralWindows(ctx)
	if err != nil {
		return err
	}
	pols, err := in.MS.Polarizations(ctx)
	if err != nil {
		return err
	}
	fields, err := in.MS.Fields(ctx)
	if err != nil {
		return err
	}
	fieldByID := make(map[int32]msdb.Field, len(fields))
	for _, f := range fields {
		fieldByID[f.ID] = f
	}
	chunks, err := in.MS.Chunks(ctx, sel.Where, sel.Args...)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		dd, ok := dds[c.DataDescID]
		if !ok {
			return fmt.Errorf("data description %d missing", c.DataDescID)
		}
		spw, ok := spws[dd.SpectralWindowID]
		if !ok {
			return fmt.Errorf("spectral window %d missing", dd.SpectralWindowID)
		}
		pol, ok := pols[dd.PolarizationID]
		if !ok {
			return fmt.Errorf("polarization %d missing", dd.PolarizationID)
		}
		f, ok := fieldByID[c.FieldID]
		if !ok {
			return fmt.Errorf("field %d missing", c.FieldID)
		}
		info := chunkInfo{
			source: idx,
			chunk:  c,
			freq:   spw.ChanFreq,
			frame:  spw.MeasFreqRef,
			dir:    coordsys.Direction{Frame: f.Frame, Lon: unit.Angle(f.PhaseDir[0]), Lat: unit.Angle(f.PhaseDir[1])},
		}
		for _, ct := range pol.CorrType {
			s := coordsys.Stokes(ct)
			info.corr = append(info.corr, s)
			info.corrOn = append(info.corrOn, sel.Selects(s))
		}
		it.chunks = append(it.chunks, info)
		it.total += c.NRows
	}
	return nil
}

// TotalRows is the number of selected rows across all inputs.
func (it *Iterator) TotalRows() int64 { return it.total }

// Reset rewinds to the first buffer.
func (it *Iterator) Reset() {
	it.pos = 0
	it.cursor = msdb.StartCursor
}

// Next returns the next buffer, or io.EOF after the last one.
func (it *Iterator) Next(ctx context.Context) (*Buffer, error) {
	for it.pos < len(it.chunks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := it.chunks[it.pos]
		in := it.inputs[info.source]
		where := "data_desc_id = ? AND field_id = ?"
		args := []any{info.chunk.DataDescID, info.chunk.FieldID}
		if in.Selection != nil && in.Selection.Where != "" {
			where = "(" + in.Selection.Where + ") AND " + where
			args = append(append([]any(nil), in.Selection.Args...), args...)
		}
		rows, next, err := in.MS.SelectRows(ctx, where, args, it.cursor, it.rowsPerBuffer)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			it.pos++
			it.cursor = msdb.StartCursor
			continue
		}
		it.cursor = next
		return it.build(info, rows, it.useCorrected[info.source])
	}
	return nil, io.EOF
}

func (it *Iterator) build(info chunkInfo, rows []msdb.Row, corrected bool) (*Buffer, error) {
	nchan, ncorr := len(info.freq), len(info.corr)
	b := &Buffer{
		NRows: len(rows), NChan: nchan, NCorr: ncorr,
		RowIDs:  make([]int64, len(rows)),
		UVW:     make([][3]float64, len(rows)),
		Vis:     make([]complex64, 0, len(rows)*nchan*ncorr),
		Flag:    make([]bool, 0, len(rows)*nchan*ncorr),
		FlagRow: make([]bool, len(rows)),
		Weight:  make([][]float32, len(rows)),
		Ant1:    make([]int32, len(rows)),
		Ant2:    make([]int32, len(rows)),
		Time:    make([]float64, len(rows)),

		Freq:         info.freq,
		FreqFrame:    info.frame,
		CorrTypes:    info.corr,
		CorrSelected: info.corrOn,
		PhaseDir:     info.dir,
		DataDescID:   info.chunk.DataDescID,
		FieldID:      info.chunk.FieldID,
		Source:       info.source,
	}
	for i, r := range rows {
		data := r.Data
		if corrected && r.CorrectedData != nil {
			data = r.CorrectedData
		}
		if len(data) != nchan*ncorr {
			return nil, fmt.Errorf("row %d: %d cells, want %d×%d", r.ID, len(data), nchan, ncorr)
		}
		flag := r.Flag
		if len(flag) != nchan*ncorr {
			flag = make([]bool, nchan*ncorr)
		}
		w := r.Weight
		if len(w) != ncorr {
			w = make([]float32, ncorr)
			for k := range w {
				w[k] = 1
			}
		}
		b.RowIDs[i] = r.ID
		b.UVW[i] = r.UVW
		b.Vis = append(b.Vis, data...)
		b.Flag = append(b.Flag, flag...)
		b.FlagRow[i] = r.FlagRow
		b.Weight[i] = w
		b.Ant1[i] = r.Antenna1
		b.Ant2[i] = r.Antenna2
		b.Time[i] = r.Time
	}
	return b, nil
}
