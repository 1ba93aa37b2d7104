package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAngle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		wantDeg float64
	}{
		{"1arcsec", 1.0 / 3600},
		{"3600", 1.0},
		{"2.5arcmin", 2.5 / 60},
		{"0.5deg", 0.5},
		{"10mas", 0.01 / 3600},
		{"-1arcsec", -1.0 / 3600},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAngle(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantDeg, a.Deg(), 1e-12)
		})
	}

	a, err := ParseAngle("1e-5rad")
	require.NoError(t, err)
	assert.InDelta(t, 1e-5, a.Rad(), 1e-18)

	for _, bad := range []string{"", "arcsec", "1parsec"} {
		_, err := ParseAngle(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()
	tests := map[string]float64{
		"1.4GHz":  1.4e9,
		"250kHz":  250e3,
		"1e9Hz":   1e9,
		"100 MHz": 100e6,
		"42":      42,
	}
	for in, want := range tests {
		got, err := ParseFrequency(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-3, in)
	}
	_, err := ParseFrequency("1.4THz")
	assert.ErrorContains(t, err, "invalid frequency unit")
}

func TestIsValidFrequencyUnit(t *testing.T) {
	t.Parallel()
	assert.True(t, IsValidFrequencyUnit("GHz"))
	assert.True(t, IsValidFrequencyUnit("ghz"))
	assert.False(t, IsValidFrequencyUnit("lambda"))
	assert.Contains(t, GetValidUnitsString(), "arcsec")
}

func TestParseUVDistance(t *testing.T) {
	t.Parallel()
	d, err := ParseUVDistance("1km")
	require.NoError(t, err)
	assert.Equal(t, UVDistance{Value: 1000}, d)
	assert.Equal(t, 1000.0, d.Meters(1e9))

	d, err = ParseUVDistance("3klambda")
	require.NoError(t, err)
	assert.True(t, d.Wavelengths)
	// 3000 wavelengths at 1 GHz is ~899 m
	assert.InDelta(t, 3000*SpeedOfLight/1e9, d.Meters(1e9), 1e-9)

	_, err = ParseUVDistance("5furlong")
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// Sexagesimal directions
// -----------------------------------------------------------------------------

func TestParseLongitude(t *testing.T) {
	t.Parallel()
	want := (19 + 59.0/60 + 28.5/3600) * 15
	for _, in := range []string{"19h59m28.5", "19h59m28.5s", "19:59:28.5"} {
		a, err := ParseLongitude(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, a.Deg(), 1e-9, in)
	}
	a, err := ParseLongitude("299.868deg")
	require.NoError(t, err)
	assert.InDelta(t, 299.868, a.Deg(), 1e-12)

	_, err = ParseLongitude("19hxxm")
	assert.Error(t, err)
}

func TestParseLatitude(t *testing.T) {
	t.Parallel()
	want := 40 + 44.0/60 + 1.5/3600
	for _, in := range []string{"+40d44m01.5", "40d44m01.5s", "40.44.01.5"} {
		a, err := ParseLatitude(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, a.Deg(), 1e-9, in)
	}

	a, err := ParseLatitude("-30d00m00")
	require.NoError(t, err)
	assert.InDelta(t, -30, a.Deg(), 1e-12)

	a, err = ParseLatitude("-0.5rad")
	require.NoError(t, err)
	assert.InDelta(t, -0.5, a.Rad(), 1e-12)

	_, err = ParseLatitude("95")
	assert.Error(t, err)
}
