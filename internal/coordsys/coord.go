package coordsys

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/soniakeys/unit"
)

// DirectionCoord is a SIN-projected direction axis pair.
type DirectionCoord struct {
	Ref        Direction  `json:"ref"`
	RefPix     [2]float64 `json:"refpix"`
	Inc        [2]float64 `json:"inc"` // radians per pixel
	Projection string     `json:"projection"`
}

// NewDirectionCoord centres the reference pixel on an nx × ny image.
func NewDirectionCoord(ref Direction, nx, ny int, cellX, cellY unit.Angle) DirectionCoord {
	return DirectionCoord{
		Ref:        ref,
		RefPix:     [2]float64{float64(nx / 2), float64(ny / 2)},
		Inc:        [2]float64{cellX.Rad(), cellY.Rad()},
		Projection: "SIN",
	}
}

// Increment returns the cell sizes in radians.
func (c DirectionCoord) Increment() [2]float64 { return c.Inc }

// FourierIncrement is the uv spacing, in wavelengths, of the Fourier
// counterpart of an image of the given shape: 1/(n·Δ) per axis.
func (c DirectionCoord) FourierIncrement(nx, ny int) [2]float64 {
	return [2]float64{1 / (float64(nx) * c.Inc[0]), 1 / (float64(ny) * c.Inc[1])}
}

// ToWorld converts a pixel to a direction. ok is false outside the
// projection's valid region.
func (c DirectionCoord) ToWorld(px, py float64) (Direction, bool) {
	l := (px - c.RefPix[0]) * c.Inc[0]
	m := (py - c.RefPix[1]) * c.Inc[1]
	r2 := l*l + m*m
	if r2 > 1 {
		return Direction{}, false
	}
	n := math.Sqrt(1 - r2)
	s0, c0 := math.Sincos(c.Ref.Lat.Rad())
	lat := math.Asin(m*c0 + n*s0)
	lon := c.Ref.Lon.Rad() + math.Atan2(l, n*c0-m*s0)
	return Direction{Frame: c.Ref.Frame, Lon: unit.Angle(lon), Lat: unit.Angle(lat)}, true
}

// ToPixel converts a direction to a pixel. ok is false on the far hemisphere.
func (c DirectionCoord) ToPixel(d Direction) (px, py float64, ok bool) {
	s0, c0 := math.Sincos(c.Ref.Lat.Rad())
	sd, cd := math.Sincos(d.Lat.Rad())
	da := d.Lon.Rad() - c.Ref.Lon.Rad()
	if sd*s0+cd*c0*math.Cos(da) < 0 {
		return 0, 0, false
	}
	l := cd * math.Sin(da)
	m := sd*c0 - cd*s0*math.Cos(da)
	return c.RefPix[0] + l/c.Inc[0], c.RefPix[1] + m/c.Inc[1], true
}

// Spectral frames.
const (
	FrameLSRK = "LSRK"
	FrameREST = "REST"
)

// Spectral is a linear frequency axis.
type Spectral struct {
	Frame   string  `json:"frame"`
	RefPix  float64 `json:"refpix"`
	RefFreq float64 `json:"reffreq"`
	Step    float64 `json:"step"`
}

// ToWorld returns the frequency of (fractional) channel pix.
func (s Spectral) ToWorld(pix float64) float64 {
	return s.RefFreq + (pix-s.RefPix)*s.Step
}

// ToPixel returns the fractional channel of freq.
func (s Spectral) ToPixel(freq float64) float64 {
	return s.RefPix + (freq-s.RefFreq)/s.Step
}

// System is the coordinate system of a gridded table.
type System struct {
	Direction DirectionCoord `json:"direction"`
	Stokes    []Stokes       `json:"stokes"`
	Spectral  Spectral       `json:"spectral"`
}

// New assembles a coordinate system for an nx × ny grid.
func New(phase Direction, nx, ny int, cellX, cellY unit.Angle, stokes []Stokes, spec Spectral) *System {
	return &System{
		Direction: NewDirectionCoord(phase, nx, ny, cellX, cellY),
		Stokes:    append([]Stokes(nil), stokes...),
		Spectral:  spec,
	}
}

// Save serialises the system into a keyword record.
func (s *System) Save() (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal coordinate system: %w", err)
	}
	return b, nil
}

// Restore rebuilds a system saved with Save.
func Restore(raw json.RawMessage) (*System, error) {
	var s System
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal coordinate system: %w", err)
	}
	if len(s.Stokes) == 0 {
		return nil, fmt.Errorf("coordinate system has no Stokes axis")
	}
	if s.Spectral.Step == 0 {
		return nil, fmt.Errorf("coordinate system has a zero channel width")
	}
	return &s, nil
}
