package coordsys

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/uvbin/internal/units"
	"github.com/soniakeys/unit"
)

// Known direction reference frames.
var Frames = []string{"J2000", "B1950", "ICRS", "GALACTIC", "AZEL"}

// Direction is a sky direction in a named reference frame.
type Direction struct {
	Frame string     `json:"frame"`
	Lon   unit.Angle `json:"lon"`
	Lat   unit.Angle `json:"lat"`
}

// ParseDirection parses "J2000 19h59m28.5 +40d44m01.5",
// "19h59m28.5 40d44m01.5" or "J2000 299.868deg 40.734deg". The frame
// defaults to J2000. Field-id forms are resolved by the caller.
func ParseDirection(s string) (Direction, error) {
	parts := strings.Fields(s)
	frame := "J2000"
	if len(parts) == 3 {
		frame = strings.ToUpper(parts[0])
		if !knownFrame(frame) {
			return Direction{}, fmt.Errorf("unknown direction frame %q", parts[0])
		}
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return Direction{}, fmt.Errorf("direction %q: want [frame] lon lat", s)
	}
	lon, err := units.ParseLongitude(parts[0])
	if err != nil {
		return Direction{}, fmt.Errorf("direction %q: %w", s, err)
	}
	lat, err := units.ParseLatitude(parts[1])
	if err != nil {
		return Direction{}, fmt.Errorf("direction %q: %w", s, err)
	}
	return Direction{Frame: frame, Lon: lon, Lat: lat}, nil
}

func knownFrame(f string) bool {
	for _, k := range Frames {
		if k == f {
			return true
		}
	}
	return false
}

// Separation is the great-circle angle between d and o.
func (d Direction) Separation(o Direction) unit.Angle {
	sd, cd := math.Sincos(d.Lat.Rad())
	so, co := math.Sincos(o.Lat.Rad())
	dl := o.Lon.Rad() - d.Lon.Rad()
	x := cd*so - sd*co*math.Cos(dl)
	y := co * math.Sin(dl)
	z := sd*so + cd*co*math.Cos(dl)
	return unit.Angle(math.Atan2(math.Hypot(x, y), z))
}

// NearlyEqual reports whether the directions coincide to within tol radians.
func (d Direction) NearlyEqual(o Direction, tol float64) bool {
	return d.Separation(o).Rad() <= tol
}

func (d Direction) String() string {
	ra := math.Mod(d.Lon.Deg()/15+24, 24)
	h := math.Floor(ra)
	m := math.Floor((ra - h) * 60)
	sec := ((ra-h)*60 - m) * 60
	dec := d.Lat.Deg()
	sign := "+"
	if dec < 0 {
		sign = "-"
		dec = -dec
	}
	dd := math.Floor(dec)
	dm := math.Floor((dec - dd) * 60)
	ds := ((dec-dd)*60 - dm) * 60
	return fmt.Sprintf("%s %02.0fh%02.0fm%07.4f %s%02.0fd%02.0fm%06.3f", d.Frame, h, m, sec, sign, dd, dm, ds)
}
