// Package units parses the quantity strings used in run configurations and
// selection expressions: angles, frequencies, lengths and uv distances.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/soniakeys/unit"
)

// Frequency unit constants
const (
	Hz  = "Hz"
	KHz = "kHz"
	MHz = "MHz"
	GHz = "GHz"
)

// ValidFrequencyUnits contains all valid frequency unit suffixes
var ValidFrequencyUnits = []string{Hz, KHz, MHz, GHz}

// ValidAngleUnits contains all valid angle unit suffixes
var ValidAngleUnits = []string{"rad", "deg", "arcmin", "arcsec", "mas"}

// IsValidFrequencyUnit checks if the given suffix is a known frequency unit.
// Matching is case-insensitive.
func IsValidFrequencyUnit(u string) bool {
	for _, v := range ValidFrequencyUnits {
		if strings.EqualFold(u, v) {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidAngleUnits, ", ") + "; " + strings.Join(ValidFrequencyUnits, ", ")
}

// splitQuantity separates the leading number from its unit suffix.
func splitQuantity(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '+' || c == '-' {
			end++
			continue
		}
		if (c == 'e' || c == 'E') && end > 0 && end+1 < len(s) {
			n := s[end+1]
			if (n >= '0' && n <= '9') || n == '+' || n == '-' {
				end++
				continue
			}
		}
		break
	}
	if end == 0 {
		return 0, "", fmt.Errorf("quantity %q has no numeric value", s)
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, "", fmt.Errorf("quantity %q: %w", s, err)
	}
	return v, strings.TrimSpace(s[end:]), nil
}

// ParseAngle parses "1arcsec", "0.5deg", "2.5arcmin", "1e-5rad" or "10mas".
// A bare number is taken as arcseconds, the usual unit of cell sizes.
func ParseAngle(s string) (unit.Angle, error) {
	v, u, err := splitQuantity(s)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(u) {
	case "", "arcsec", "asec", "\"":
		return unit.AngleFromSec(v), nil
	case "arcmin", "amin", "'":
		return unit.AngleFromMin(v), nil
	case "deg", "d":
		return unit.AngleFromDeg(v), nil
	case "rad":
		return unit.Angle(v), nil
	case "mas":
		return unit.AngleFromSec(v / 1000), nil
	default:
		return 0, fmt.Errorf("invalid angle unit %q in %q (valid: %s)", u, s, strings.Join(ValidAngleUnits, ", "))
	}
}

// ParseFrequency parses "1.4GHz", "250kHz" or "1e9Hz" into Hz. A bare number
// is taken as Hz.
func ParseFrequency(s string) (float64, error) {
	v, u, err := splitQuantity(s)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(u) {
	case "", "hz":
		return v, nil
	case "khz":
		return v * 1e3, nil
	case "mhz":
		return v * 1e6, nil
	case "ghz":
		return v * 1e9, nil
	default:
		return 0, fmt.Errorf("invalid frequency unit %q in %q (valid: %s)", u, s, strings.Join(ValidFrequencyUnits, ", "))
	}
}

// UVDistance is a uv-range bound, either in meters or in wavelengths.
type UVDistance struct {
	Value       float64
	Wavelengths bool
}

// ParseUVDistance parses "500m", "1km", "3klambda" or "200lambda". A bare
// number is taken as meters.
func ParseUVDistance(s string) (UVDistance, error) {
	v, u, err := splitQuantity(s)
	if err != nil {
		return UVDistance{}, err
	}
	switch strings.ToLower(u) {
	case "", "m":
		return UVDistance{Value: v}, nil
	case "km":
		return UVDistance{Value: v * 1e3}, nil
	case "lambda", "l":
		return UVDistance{Value: v, Wavelengths: true}, nil
	case "klambda", "kl":
		return UVDistance{Value: v * 1e3, Wavelengths: true}, nil
	case "mlambda", "ml":
		return UVDistance{Value: v * 1e6, Wavelengths: true}, nil
	default:
		return UVDistance{}, fmt.Errorf("invalid uv distance unit %q in %q", u, s)
	}
}

// Meters converts the distance to meters at frequency freqHz.
func (d UVDistance) Meters(freqHz float64) float64 {
	if !d.Wavelengths {
		return d.Value
	}
	return d.Value * SpeedOfLight / freqHz
}

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// ParseLongitude parses a right ascension or longitude: "19h59m28.5",
// "19:59:28.5", "299.868deg" or a bare number of degrees.
func ParseLongitude(s string) (unit.Angle, error) {
	s = strings.TrimSpace(s)
	if !hasAngleUnit(s) && strings.ContainsAny(s, "hH:") {
		deg, err := sexagesimal(s, "hH:", "mM:", "sS")
		if err != nil {
			return 0, fmt.Errorf("longitude %q: %w", s, err)
		}
		return unit.AngleFromDeg(deg * 15), nil
	}
	return parseDegrees(s)
}

// ParseLatitude parses a declination or latitude: "+40d44m01.5",
// "40.44.01.5", "40.734deg" or a bare number of degrees.
func ParseLatitude(s string) (unit.Angle, error) {
	s = strings.TrimSpace(s)
	if hasAngleUnit(s) {
		return parseDegrees(s)
	}
	if strings.Count(s, ".") >= 2 {
		deg, err := sexagesimal(s, ".", ".", "")
		if err != nil {
			return 0, fmt.Errorf("latitude %q: %w", s, err)
		}
		return unit.AngleFromDeg(deg), nil
	}
	if strings.ContainsAny(s, "dD") {
		deg, err := sexagesimal(s, "dD", "mM'", "sS\"")
		if err != nil {
			return 0, fmt.Errorf("latitude %q: %w", s, err)
		}
		return unit.AngleFromDeg(deg), nil
	}
	a, err := parseDegrees(s)
	if err != nil {
		return 0, err
	}
	if math.Abs(a.Deg()) > 90 {
		return 0, fmt.Errorf("latitude %q out of range", s)
	}
	return a, nil
}

func hasAngleUnit(s string) bool {
	lower := strings.ToLower(s)
	for _, u := range ValidAngleUnits {
		if strings.HasSuffix(lower, u) {
			return true
		}
	}
	return false
}

func parseDegrees(s string) (unit.Angle, error) {
	v, u, err := splitQuantity(s)
	if err != nil {
		return 0, err
	}
	if u == "" {
		return unit.AngleFromDeg(v), nil
	}
	return ParseAngle(s)
}

// sexagesimal splits s at the first occurrence of any rune in each separator
// set and returns the value in the leading unit.
func sexagesimal(s, sep1, sep2, sep3 string) (float64, error) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	fields := make([]string, 0, 3)
	rest := s
	for _, seps := range []string{sep1, sep2} {
		i := strings.IndexAny(rest, seps)
		if i < 0 {
			break
		}
		fields = append(fields, rest[:i])
		rest = rest[i+1:]
	}
	if sep3 != "" {
		rest = strings.TrimRight(rest, sep3)
	}
	if rest != "" {
		fields = append(fields, rest)
	}
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty sexagesimal value")
	}
	total := 0.0
	scale := 1.0
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("field %d: %w", i, err)
		}
		if v < 0 {
			return 0, fmt.Errorf("field %d is negative", i)
		}
		total += v / scale
		scale *= 60
	}
	if neg {
		total = -total
	}
	return total, nil
}
