package uvbin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/visbuf"
	"github.com/soniakeys/unit"
)

// makeCoordsys builds the grid coordinate system. The Stokes axis follows the
// feed basis of the first selected chunk; the spectral axis is referenced to
// channel nchan/2.
func (b *Binner) makeCoordsys(ctx context.Context) error {
	linear, frame, err := inputBasis(ctx, b.inputs[0])
	if err != nil {
		return fmt.Errorf("coordinate system: %w", err)
	}
	stokes, err := coordsys.StokesFor(linear, b.spec.NPol)
	if err != nil {
		return err
	}
	refPix := float64(b.spec.NChan / 2)
	spec := coordsys.Spectral{
		Frame:   frame,
		RefPix:  refPix,
		RefFreq: b.spec.FreqStart + refPix*b.spec.FreqStep,
		Step:    b.spec.FreqStep,
	}
	b.csys = coordsys.New(b.spec.PhaseCenter, b.spec.NX, b.spec.NY, b.spec.CellX, b.spec.CellY, stokes, spec)
	b.state = StateCoordsysBuilt
	return nil
}

// inputBasis reports whether the first selected chunk of in has linear feeds
// and the spectral frame of the grid.
func inputBasis(ctx context.Context, in visbuf.Input) (linear bool, frame string, err error) {
	frame = coordsys.FrameLSRK
	where, args := "", []any(nil)
	if in.Selection != nil {
		where, args = in.Selection.Where, in.Selection.Args
	}
	chunks, err := in.MS.Chunks(ctx, where, args...)
	if err != nil || len(chunks) == 0 {
		return false, frame, err
	}
	dds, err := in.MS.DataDescriptions(ctx)
	if err != nil {
		return false, frame, err
	}
	dd, ok := dds[chunks[0].DataDescID]
	if !ok {
		return false, frame, fmt.Errorf("data description %d missing", chunks[0].DataDescID)
	}
	pols, err := in.MS.Polarizations(ctx)
	if err != nil {
		return false, frame, err
	}
	if pol, ok := pols[dd.PolarizationID]; ok && len(pol.CorrType) > 0 {
		linear = coordsys.Stokes(pol.CorrType[0]).IsLinear()
	}
	spws, err := in.MS.SpectralWindows(ctx)
	if err != nil {
		return false, frame, err
	}
	if spw, ok := spws[dd.SpectralWindowID]; ok && strings.EqualFold(spw.MeasFreqRef, coordsys.FrameREST) {
		frame = coordsys.FrameREST
	}
	return linear, frame, nil
}

// ParsePhaseCenter reads a direction string, or a FIELD id of ms whose phase
// direction is used.
func ParsePhaseCenter(ctx context.Context, s string, ms *msdb.MS) (coordsys.Direction, error) {
	s = strings.TrimSpace(s)
	id, err := strconv.Atoi(s)
	if err != nil {
		return coordsys.ParseDirection(s)
	}
	if ms == nil {
		return coordsys.Direction{}, fmt.Errorf("phase centre field %d needs an input table", id)
	}
	fields, err := ms.Fields(ctx)
	if err != nil {
		return coordsys.Direction{}, err
	}
	for _, f := range fields {
		if int(f.ID) != id {
			continue
		}
		frame := f.Frame
		if frame == "" {
			frame = "J2000"
		}
		return coordsys.Direction{Frame: frame, Lon: unit.Angle(f.PhaseDir[0]), Lat: unit.Angle(f.PhaseDir[1])}, nil
	}
	return coordsys.Direction{}, fmt.Errorf("field %d not found in %s", id, ms.Path())
}
