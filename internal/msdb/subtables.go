package msdb

import (
	"context"
	"encoding/json"
	"fmt"
)

// Field is a FIELD sub-table row. Directions are (lon, lat) radians.
type Field struct {
	ID           int32
	Name         string
	Code         string
	Time         float64
	NumPoly      int32
	Frame        string
	DelayDir     [2]float64
	PhaseDir     [2]float64
	ReferenceDir [2]float64
	SourceID     int32
	FlagRow      bool
}

// SpectralWindow is a SPECTRAL_WINDOW sub-table row.
type SpectralWindow struct {
	ID             int32
	Name           string
	NumChan        int
	ChanFreq       []float64
	ChanWidth      []float64
	EffectiveBW    []float64
	Resolution     []float64
	RefFrequency   float64
	TotalBandwidth float64
	NetSideband    int32
	IFConvChain    int32
	FreqGroup      int32
	FreqGroupName  string
	MeasFreqRef    string
	FlagRow        bool
}

// Polarization is a POLARIZATION sub-table row. CorrType holds Stokes codes.
type Polarization struct {
	ID          int32
	NumCorr     int
	CorrType    []int
	CorrProduct [][2]int
	FlagRow     bool
}

// DataDescription is a DATA_DESCRIPTION sub-table row.
type DataDescription struct {
	ID               int32
	SpectralWindowID int32
	PolarizationID   int32
	FlagRow          bool
}

// Antenna is an ANTENNA sub-table row.
type Antenna struct {
	ID           int32
	Name         string
	Station      string
	Type         string
	Mount        string
	Position     [3]float64
	DishDiameter float64
	FlagRow      bool
}

// Feed is a FEED sub-table row.
type Feed struct {
	AntennaID        int32
	FeedID           int32
	SpectralWindowID int32
	Time             float64
	Interval         float64
	NumReceptors     int32
	PolarizationType string
}

// Observation is an OBSERVATION sub-table row.
type Observation struct {
	ID            int32
	TelescopeName string
	Observer      string
	Project       string
	TimeStart     float64
	TimeEnd       float64
}

// State is a STATE sub-table row.
type State struct {
	ID      int32
	ObsMode string
	Sig     bool
	Ref     bool
}

// SubTables lists the sub-tables in schema order.
var SubTables = []string{"field", "spectral_window", "polarization", "data_description",
	"antenna", "feed", "observation", "pointing", "state", "history"}

func isSubTable(name string) bool {
	for _, s := range SubTables {
		if s == name {
			return true
		}
	}
	return false
}

// Fields returns the FIELD rows ordered by id.
func (ms *MS) Fields(ctx context.Context) ([]Field, error) {
	rows, err := ms.QueryContext(ctx, `SELECT field_id, name, code, time, num_poly, frame,
		delay_dir_lon, delay_dir_lat, phase_dir_lon, phase_dir_lat,
		reference_dir_lon, reference_dir_lat, source_id, flag_row
		FROM field ORDER BY field_id`)
	if err != nil {
		return nil, fmt.Errorf("query field: %w", err)
	}
	defer rows.Close()
	var out []Field
	for rows.Next() {
		var f Field
		var flag int
		if err := rows.Scan(&f.ID, &f.Name, &f.Code, &f.Time, &f.NumPoly, &f.Frame,
			&f.DelayDir[0], &f.DelayDir[1], &f.PhaseDir[0], &f.PhaseDir[1],
			&f.ReferenceDir[0], &f.ReferenceDir[1], &f.SourceID, &flag); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		f.FlagRow = flag != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// PutField inserts or replaces a FIELD row.
func (ms *MS) PutField(ctx context.Context, f Field) error {
	_, err := ms.ExecContext(ctx, `INSERT OR REPLACE INTO field (field_id, name, code, time,
		num_poly, frame, delay_dir_lon, delay_dir_lat, phase_dir_lon, phase_dir_lat,
		reference_dir_lon, reference_dir_lat, source_id, flag_row)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Code, f.Time, f.NumPoly, f.Frame,
		f.DelayDir[0], f.DelayDir[1], f.PhaseDir[0], f.PhaseDir[1],
		f.ReferenceDir[0], f.ReferenceDir[1], f.SourceID, boolInt(f.FlagRow))
	if err != nil {
		return fmt.Errorf("insert field %d: %w", f.ID, err)
	}
	return nil
}

// SpectralWindows returns the SPECTRAL_WINDOW rows keyed by id.
func (ms *MS) SpectralWindows(ctx context.Context) (map[int32]SpectralWindow, error) {
	rows, err := ms.QueryContext(ctx, `SELECT spw_id, name, num_chan, chan_freq, chan_width,
		effective_bw, resolution, ref_frequency, total_bandwidth, net_sideband,
		if_conv_chain, freq_group, freq_group_name, meas_freq_ref, flag_row
		FROM spectral_window ORDER BY spw_id`)
	if err != nil {
		return nil, fmt.Errorf("query spectral_window: %w", err)
	}
	defer rows.Close()
	out := make(map[int32]SpectralWindow)
	for rows.Next() {
		var s SpectralWindow
		var freq, width, ebw, res []byte
		var flag int
		if err := rows.Scan(&s.ID, &s.Name, &s.NumChan, &freq, &width, &ebw, &res,
			&s.RefFrequency, &s.TotalBandwidth, &s.NetSideband, &s.IFConvChain,
			&s.FreqGroup, &s.FreqGroupName, &s.MeasFreqRef, &flag); err != nil {
			return nil, fmt.Errorf("scan spectral_window: %w", err)
		}
		s.FlagRow = flag != 0
		for _, c := range []struct {
			dst *[]float64
			src []byte
		}{{&s.ChanFreq, freq}, {&s.ChanWidth, width}, {&s.EffectiveBW, ebw}, {&s.Resolution, res}} {
			v, err := DecodeFloat64(c.src)
			if err != nil {
				return nil, fmt.Errorf("spectral_window %d: %w", s.ID, err)
			}
			*c.dst = v
		}
		if len(s.ChanFreq) != s.NumChan {
			return nil, fmt.Errorf("spectral_window %d: %d frequencies for %d channels", s.ID, len(s.ChanFreq), s.NumChan)
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// PutSpectralWindow inserts or replaces a SPECTRAL_WINDOW row.
func (ms *MS) PutSpectralWindow(ctx context.Context, s SpectralWindow) error {
	if s.MeasFreqRef == "" {
		s.MeasFreqRef = "LSRK"
	}
	fill := func(v []float64) []float64 {
		if v == nil {
			return make([]float64, s.NumChan)
		}
		return v
	}
	_, err := ms.ExecContext(ctx, `INSERT OR REPLACE INTO spectral_window (spw_id, name,
		num_chan, chan_freq, chan_width, effective_bw, resolution, ref_frequency,
		total_bandwidth, net_sideband, if_conv_chain, freq_group, freq_group_name,
		meas_freq_ref, flag_row) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.NumChan, EncodeFloat64(fill(s.ChanFreq)), EncodeFloat64(fill(s.ChanWidth)),
		EncodeFloat64(fill(s.EffectiveBW)), EncodeFloat64(fill(s.Resolution)), s.RefFrequency,
		s.TotalBandwidth, s.NetSideband, s.IFConvChain, s.FreqGroup, s.FreqGroupName,
		s.MeasFreqRef, boolInt(s.FlagRow))
	if err != nil {
		return fmt.Errorf("insert spectral_window %d: %w", s.ID, err)
	}
	return nil
}

// Polarizations returns the POLARIZATION rows keyed by id.
func (ms *MS) Polarizations(ctx context.Context) (map[int32]Polarization, error) {
	rows, err := ms.QueryContext(ctx, `SELECT pol_id, num_corr, corr_type, corr_product, flag_row
		FROM polarization ORDER BY pol_id`)
	if err != nil {
		return nil, fmt.Errorf("query polarization: %w", err)
	}
	defer rows.Close()
	out := make(map[int32]Polarization)
	for rows.Next() {
		var p Polarization
		var ct, cp string
		var flag int
		if err := rows.Scan(&p.ID, &p.NumCorr, &ct, &cp, &flag); err != nil {
			return nil, fmt.Errorf("scan polarization: %w", err)
		}
		if err := json.Unmarshal([]byte(ct), &p.CorrType); err != nil {
			return nil, fmt.Errorf("polarization %d corr_type: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(cp), &p.CorrProduct); err != nil {
			return nil, fmt.Errorf("polarization %d corr_product: %w", p.ID, err)
		}
		p.FlagRow = flag != 0
		out[p.ID] = p
	}
	return out, rows.Err()
}

// PutPolarization inserts or replaces a POLARIZATION row.
func (ms *MS) PutPolarization(ctx context.Context, p Polarization) error {
	if p.CorrProduct == nil {
		p.CorrProduct = [][2]int{}
	}
	ct, err := json.Marshal(p.CorrType)
	if err != nil {
		return fmt.Errorf("marshal corr_type: %w", err)
	}
	cp, err := json.Marshal(p.CorrProduct)
	if err != nil {
		return fmt.Errorf("marshal corr_product: %w", err)
	}
	_, err = ms.ExecContext(ctx, `INSERT OR REPLACE INTO polarization (pol_id, num_corr,
		corr_type, corr_product, flag_row) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.NumCorr, string(ct), string(cp), boolInt(p.FlagRow))
	if err != nil {
		return fmt.Errorf("insert polarization %d: %w", p.ID, err)
	}
	return nil
}

// DataDescriptions returns the DATA_DESCRIPTION rows keyed by id.
func (ms *MS) DataDescriptions(ctx context.Context) (map[int32]DataDescription, error) {
	rows, err := ms.QueryContext(ctx, `SELECT dd_id, spectral_window_id, polarization_id, flag_row
		FROM data_description ORDER BY dd_id`)
	if err != nil {
		return nil, fmt.Errorf("query data_description: %w", err)
	}
	defer rows.Close()
	out := make(map[int32]DataDescription)
	for rows.Next() {
		var d DataDescription
		var flag int
		if err := rows.Scan(&d.ID, &d.SpectralWindowID, &d.PolarizationID, &flag); err != nil {
			return nil, fmt.Errorf("scan data_description: %w", err)
		}
		d.FlagRow = flag != 0
		out[d.ID] = d
	}
	return out, rows.Err()
}

// PutDataDescription inserts or replaces a DATA_DESCRIPTION row.
func (ms *MS) PutDataDescription(ctx context.Context, d DataDescription) error {
	_, err := ms.ExecContext(ctx, `INSERT OR REPLACE INTO data_description (dd_id,
		spectral_window_id, polarization_id, flag_row) VALUES (?, ?, ?, ?)`,
		d.ID, d.SpectralWindowID, d.PolarizationID, boolInt(d.FlagRow))
	if err != nil {
		return fmt.Errorf("insert data_description %d: %w", d.ID, err)
	}
	return nil
}

// Antennas returns the ANTENNA rows ordered by id.
func (ms *MS) Antennas(ctx context.Context) ([]Antenna, error) {
	rows, err := ms.QueryContext(ctx, `SELECT antenna_id, name, station, type, mount,
		x, y, z, dish_diameter, flag_row FROM antenna ORDER BY antenna_id`)
	if err != nil {
		return nil, fmt.Errorf("query antenna: %w", err)
	}
	defer rows.Close()
	var out []Antenna
	for rows.Next() {
		var a Antenna
		var flag int
		if err := rows.Scan(&a.ID, &a.Name, &a.Station, &a.Type, &a.Mount,
			&a.Position[0], &a.Position[1], &a.Position[2], &a.DishDiameter, &flag); err != nil {
			return nil, fmt.Errorf("scan antenna: %w", err)
		}
		a.FlagRow = flag != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutAntenna inserts or replaces an ANTENNA row.
func (ms *MS) PutAntenna(ctx context.Context, a Antenna) error {
	if a.Type == "" {
		a.Type = "GROUND-BASED"
	}
	if a.Mount == "" {
		a.Mount = "ALT-AZ"
	}
	_, err := ms.ExecContext(ctx, `INSERT OR REPLACE INTO antenna (antenna_id, name, station,
		type, mount, x, y, z, dish_diameter, flag_row) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Station, a.Type, a.Mount, a.Position[0], a.Position[1], a.Position[2],
		a.DishDiameter, boolInt(a.FlagRow))
	if err != nil {
		return fmt.Errorf("insert antenna %d: %w", a.ID, err)
	}
	return nil
}

// AddFeed appends a FEED row.
func (ms *MS) AddFeed(ctx context.Context, f Feed) error {
	_, err := ms.ExecContext(ctx, `INSERT INTO feed (antenna_id, feed_id, spectral_window_id,
		time, interval, num_receptors, polarization_type) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.AntennaID, f.FeedID, f.SpectralWindowID, f.Time, f.Interval, f.NumReceptors, f.PolarizationType)
	if err != nil {
		return fmt.Errorf("insert feed for antenna %d: %w", f.AntennaID, err)
	}
	return nil
}

// PutObservation inserts or replaces an OBSERVATION row.
func (ms *MS) PutObservation(ctx context.Context, o Observation) error {
	_, err := ms.ExecContext(ctx, `INSERT OR REPLACE INTO observation (observation_id,
		telescope_name, observer, project, time_start, time_end) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.TelescopeName, o.Observer, o.Project, o.TimeStart, o.TimeEnd)
	if err != nil {
		return fmt.Errorf("insert observation %d: %w", o.ID, err)
	}
	return nil
}

// PutState inserts or replaces a STATE row.
func (ms *MS) PutState(ctx context.Context, s State) error {
	_, err := ms.ExecContext(ctx, `INSERT OR REPLACE INTO state (state_id, obs_mode, sig, ref)
		VALUES (?, ?, ?, ?)`, s.ID, s.ObsMode, boolInt(s.Sig), boolInt(s.Ref))
	if err != nil {
		return fmt.Errorf("insert state %d: %w", s.ID, err)
	}
	return nil
}

// TableRowCount counts the rows of a sub-table.
func (ms *MS) TableRowCount(ctx context.Context, name string) (int64, error) {
	if !isSubTable(name) && name != "ms_main" {
		return 0, fmt.Errorf("unknown table %q", name)
	}
	var n int64
	if err := ms.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}

// ClearTable removes every row of a sub-table.
func (ms *MS) ClearTable(ctx context.Context, name string) error {
	if !isSubTable(name) {
		return fmt.Errorf("unknown sub-table %q", name)
	}
	if _, err := ms.ExecContext(ctx, `DELETE FROM `+name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	return nil
}

// CopySubTable copies a sub-table of src into ms, replacing its rows. With
// noRows only the (shared) schema is kept and the destination is emptied.
func (ms *MS) CopySubTable(ctx context.Context, src *MS, name string, noRows bool) error {
	if !isSubTable(name) {
		return fmt.Errorf("unknown sub-table %q", name)
	}
	if err := ms.ClearTable(ctx, name); err != nil {
		return err
	}
	if noRows {
		return nil
	}
	if _, err := ms.ExecContext(ctx, `ATTACH DATABASE ? AS src`, src.Path()); err != nil {
		return fmt.Errorf("attach %s: %w", src.Path(), err)
	}
	_, copyErr := ms.ExecContext(ctx, `INSERT INTO main.`+name+` SELECT * FROM src.`+name)
	if _, err := ms.ExecContext(ctx, `DETACH DATABASE src`); err != nil && copyErr == nil {
		return fmt.Errorf("detach %s: %w", src.Path(), err)
	}
	if copyErr != nil {
		return fmt.Errorf("copy %s from %s: %w", name, src.Path(), copyErr)
	}
	return nil
}
