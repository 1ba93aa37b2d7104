package msselect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/mstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSelectionMS builds a table with every baseline of 4 antennas (autos
// included) for 2 spectral windows, 2 fields and 2 scans.
func newSelectionMS(t *testing.T) *msdb.MS {
	t.Helper()
	ctx := context.Background()
	ms, err := mstest.Create(ctx, filepath.Join(t.TempDir(), "sel.ms"), mstest.Config{
		NAnt: 4,
		SPWs: []mstest.SPW{
			{NChan: 1, FreqStart: 1e9, FreqStep: 1e6},
			{NChan: 1, FreqStart: 2e9, FreqStep: 1e6},
		},
		ExtraFields: []coordsys.Direction{{Frame: "J2000", Lon: 1, Lat: 0.5}},
		Intents:     []string{"OBSERVE_TARGET#ON_SOURCE", "CALIBRATE_PHASE#ON_SOURCE"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close() })

	var vis []mstest.Vis
	for dd := int32(0); dd < 2; dd++ {
		for a := int32(0); a < 4; a++ {
			for b := a; b < 4; b++ {
				// uv length grows with the antenna index difference: 0, 100, 200, 300 m
				vis = append(vis, mstest.Vis{
					UVW: [3]float64{float64(b-a) * 100, 0, 0}, Ant1: a, Ant2: b,
					DataDescID: dd, FieldID: dd, Scan: dd + 1, StateID: dd,
				})
			}
		}
	}
	require.NoError(t, mstest.AddVis(ctx, ms, 1, 2, vis))
	return ms
}

func count(t *testing.T, ms *msdb.MS, sel Selection) int64 {
	t.Helper()
	c, err := Compile(context.Background(), ms, sel)
	require.NoError(t, err)
	n, err := ms.CountRows(context.Background(), c.Where, c.Args...)
	require.NoError(t, err)
	return n
}

func TestCompileCounts(t *testing.T) {
	ms := newSelectionMS(t)
	// 10 baselines (4 autos + 6 cross) per data description, 20 rows total.
	tests := []struct {
		name string
		sel  Selection
		want int64
	}{
		{"empty", Selection{}, 20},
		{"spw 1", Selection{SPW: "1"}, 10},
		{"spw star", Selection{SPW: "*"}, 20},
		{"spw channel range ignored", Selection{SPW: "0:0~3"}, 10},
		{"spw missing", Selection{SPW: "5"}, 0},
		{"field id", Selection{Field: "0"}, 10},
		{"field name", Selection{Field: "TARGET_1"}, 10},
		{"field glob", Selection{Field: "TAR*"}, 20},
		{"scan", Selection{Scan: "2"}, 10},
		{"scan range", Selection{Scan: "1~2"}, 20},
		{"subarray", Selection{SubArray: "0"}, 20},
		{"obs", Selection{Obs: "1"}, 0},
		{"baseline pair", Selection{Baseline: "0&1"}, 2},
		{"baseline antenna", Selection{Baseline: "2"}, 6},
		{"baseline with autos", Selection{Baseline: "0&&0"}, 2},
		{"baseline autos only", Selection{Baseline: "*&&&"}, 8},
		{"baseline by name", Selection{Baseline: "A00&A03"}, 2},
		{"baseline negated", Selection{Baseline: "!0&1"}, 18},
		{"baseline two terms", Selection{Baseline: "0&1;2&3"}, 4},
		{"uvrange meters", Selection{UVRange: "150~250m"}, 4},
		{"uvrange upper", Selection{UVRange: "<1m"}, 8},
		{"uvrange lower km", Selection{UVRange: ">0.25km"}, 2},
		// 300 m is 1000.7 wavelengths at 1 GHz and 2001.4 at 2 GHz.
		{"uvrange lambda", Selection{UVRange: ">1.5klambda"}, 1},
		{"intent", Selection{Intent: "CALIBRATE_PHASE"}, 10},
		{"intent glob", Selection{Intent: "*ON_SOURCE"}, 20},
		{"taql", Selection{TaQL: "antenna1 = 3"}, 2},
		{"combined", Selection{SPW: "0", Baseline: "0", UVRange: ">150m"}, 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, count(t, ms, tt.sel))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	ms := newSelectionMS(t)
	ctx := context.Background()
	for _, sel := range []Selection{
		{SPW: "x"},
		{Field: "NOPE"},
		{Baseline: "ZZ&0"},
		{Scan: "3~1"},
		{UVRange: "10furlong"},
		{UVRange: "=5m"},
		{TaQL: "no_such_column > 1"},
		{TaQL: "1=1; DROP TABLE ms_main"},
		{Correlation: "QQ"},
	} {
		_, err := Compile(ctx, ms, sel)
		assert.Error(t, err, "%+v", sel)
	}
}

func TestCorrelationSelection(t *testing.T) {
	ms := newSelectionMS(t)
	c, err := Compile(context.Background(), ms, Selection{Correlation: "rr, ll"})
	require.NoError(t, err)
	assert.Equal(t, []coordsys.Stokes{coordsys.RR, coordsys.LL}, c.Correlations)
	assert.True(t, c.Selects(coordsys.LL))
	assert.False(t, c.Selects(coordsys.RL))

	all, err := Compile(context.Background(), ms, Selection{})
	require.NoError(t, err)
	assert.True(t, all.Selects(coordsys.RL))
	assert.Empty(t, all.Where)
}

func TestParseIDList(t *testing.T) {
	t.Parallel()
	ids, err := ParseIDList("4, 0~2,2")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 4}, ids)

	for _, bad := range []string{"", "a", "-1", "2~1", "0~999999"} {
		_, err := ParseIDList(bad)
		assert.Error(t, err, bad)
	}
}
