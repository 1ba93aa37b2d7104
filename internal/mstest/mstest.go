// Package mstest builds synthetic measurement tables: sub-tables describing
// an array, spectral windows and polarizations, and main-table rows from
// explicit visibilities or a simulated point-source observation.
package mstest

import (
	"context"
	"fmt"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/soniakeys/unit"
)

// SPW describes one spectral window; data description i uses window i.
type SPW struct {
	NChan     int
	FreqStart float64
	FreqStep  float64
	Frame     string
}

// Config describes the table layout.
type Config struct {
	NAnt      int
	SPWs      []SPW
	Corr      []coordsys.Stokes
	PhaseDir  coordsys.Direction
	FieldName string
	// ExtraFields adds fields 1..n at these phase directions.
	ExtraFields []coordsys.Direction
	Intents     []string
	Telescope   string
}

func (c *Config) defaults() {
	if c.NAnt == 0 {
		c.NAnt = 4
	}
	if len(c.SPWs) == 0 {
		c.SPWs = []SPW{{NChan: 4, FreqStart: 1.4e9, FreqStep: 1e6}}
	}
	if len(c.Corr) == 0 {
		c.Corr = []coordsys.Stokes{coordsys.RR, coordsys.LL}
	}
	if c.PhaseDir.Frame == "" {
		c.PhaseDir = coordsys.Direction{Frame: "J2000", Lon: unit.AngleFromDeg(202.78), Lat: unit.AngleFromDeg(30.51)}
	}
	if c.FieldName == "" {
		c.FieldName = "TARGET"
	}
	if len(c.Intents) == 0 {
		c.Intents = []string{"OBSERVE_TARGET#ON_SOURCE"}
	}
	if c.Telescope == "" {
		c.Telescope = "SIM"
	}
}

// Create writes a new table at path with the sub-tables of cfg filled in.
func Create(ctx context.Context, path string, cfg Config) (*msdb.MS, error) {
	cfg.defaults()
	ms, err := msdb.Create(path)
	if err != nil {
		return nil, err
	}
	if err := writeSubTables(ctx, ms, cfg); err != nil {
		ms.Close()
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	return ms, nil
}

func writeSubTables(ctx context.Context, ms *msdb.MS, cfg Config) error {
	dirs := append([]coordsys.Direction{cfg.PhaseDir}, cfg.ExtraFields...)
	for i, d := range dirs {
		name := cfg.FieldName
		if i > 0 {
			name = fmt.Sprintf("%s_%d", cfg.FieldName, i)
		}
		dir := [2]float64{d.Lon.Rad(), d.Lat.Rad()}
		if err := ms.PutField(ctx, msdb.Field{ID: int32(i), Name: name, Frame: d.Frame,
			DelayDir: dir, PhaseDir: dir, ReferenceDir: dir}); err != nil {
			return err
		}
	}

	for i, s := range cfg.SPWs {
		freqs := make([]float64, s.NChan)
		widths := make([]float64, s.NChan)
		for c := range freqs {
			freqs[c] = s.FreqStart + float64(c)*s.FreqStep
			widths[c] = s.FreqStep
		}
		frame := s.Frame
		if frame == "" {
			frame = coordsys.FrameLSRK
		}
		bw := s.FreqStep * float64(s.NChan)
		if bw < 0 {
			bw = -bw
		}
		if err := ms.PutSpectralWindow(ctx, msdb.SpectralWindow{
			ID: int32(i), Name: fmt.Sprintf("SPW%d", i), NumChan: s.NChan,
			ChanFreq: freqs, ChanWidth: widths, EffectiveBW: widths, Resolution: widths,
			RefFrequency: freqs[0], TotalBandwidth: bw, NetSideband: 1, MeasFreqRef: frame,
		}); err != nil {
			return err
		}
		if err := ms.PutDataDescription(ctx, msdb.DataDescription{ID: int32(i), SpectralWindowID: int32(i)}); err != nil {
			return err
		}
	}

	corrType := make([]int, len(cfg.Corr))
	for i, c := range cfg.Corr {
		corrType[i] = int(c)
	}
	if err := ms.PutPolarization(ctx, msdb.Polarization{ID: 0, NumCorr: len(cfg.Corr),
		CorrType: corrType, CorrProduct: corrProducts(cfg.Corr)}); err != nil {
		return err
	}

	polType := "R L"
	if cfg.Corr[0].IsLinear() {
		polType = "X Y"
	}
	for a := 0; a < cfg.NAnt; a++ {
		if err := ms.PutAntenna(ctx, msdb.Antenna{ID: int32(a), Name: fmt.Sprintf("A%02d", a),
			Station: fmt.Sprintf("P%02d", a), Position: [3]float64{float64(a) * 100, 0, 0},
			DishDiameter: 25}); err != nil {
			return err
		}
		if err := ms.AddFeed(ctx, msdb.Feed{AntennaID: int32(a), SpectralWindowID: -1,
			NumReceptors: 2, PolarizationType: polType}); err != nil {
			return err
		}
	}
	if err := ms.PutObservation(ctx, msdb.Observation{ID: 0, TelescopeName: cfg.Telescope,
		Observer: "mstest", Project: "uvbin"}); err != nil {
		return err
	}
	for i, intent := range cfg.Intents {
		if err := ms.PutState(ctx, msdb.State{ID: int32(i), ObsMode: intent, Sig: true}); err != nil {
			return err
		}
	}
	return nil
}

func corrProducts(corr []coordsys.Stokes) [][2]int {
	out := make([][2]int, len(corr))
	for i, c := range corr {
		switch c {
		case coordsys.RR, coordsys.XX:
			out[i] = [2]int{0, 0}
		case coordsys.RL, coordsys.XY:
			out[i] = [2]int{0, 1}
		case coordsys.LR, coordsys.YX:
			out[i] = [2]int{1, 0}
		default:
			out[i] = [2]int{1, 1}
		}
	}
	return out
}

// Vis is one visibility row to write. Data is laid out [chan][corr]; a nil
// Data fills every cell with Value. Weight applies to every correlation.
type Vis struct {
	UVW        [3]float64
	Ant1, Ant2 int32
	Time       float64
	DataDescID int32
	FieldID    int32
	Scan       int32
	ArrayID    int32
	StateID    int32
	Data       []complex64
	Value      complex64
	Corrected  []complex64
	Weight     float32
	FlagRow    bool
	Flags      []bool
}

// AddVis appends rows. nchan and ncorr give the cell shape of every row.
func AddVis(ctx context.Context, ms *msdb.MS, nchan, ncorr int, vis []Vis) error {
	rows := make([]msdb.Row, len(vis))
	for i, v := range vis {
		n := nchan * ncorr
		data := v.Data
		if data == nil {
			data = make([]complex64, n)
			for k := range data {
				data[k] = v.Value
			}
		}
		if len(data) != n {
			return fmt.Errorf("vis %d: %d cells, want %d", i, len(data), n)
		}
		flags := v.Flags
		if flags == nil {
			flags = make([]bool, n)
		}
		w := v.Weight
		if w == 0 {
			w = 1
		}
		weights := make([]float32, ncorr)
		sigma := make([]float32, ncorr)
		for p := range weights {
			weights[p] = w
			sigma[p] = 1
		}
		rows[i] = msdb.Row{
			Time: v.Time, TimeCentroid: v.Time, Antenna1: v.Ant1, Antenna2: v.Ant2,
			UVW: v.UVW, FlagRow: v.FlagRow, DataDescID: v.DataDescID, FieldID: v.FieldID,
			ScanNumber: v.Scan, ArrayID: v.ArrayID, StateID: v.StateID,
			Data: data, CorrectedData: v.Corrected, Flag: flags,
			Weight: weights, Sigma: sigma,
		}
	}
	return ms.AddRows(ctx, rows)
}
