package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/mstest"
	"github.com/banshee-data/uvbin/internal/uvbin"
	"github.com/soniakeys/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRunConfigFormats(t *testing.T) {
	bodies := map[string]string{
		"run.json": `{
  "phase_center": "J2000 10deg 20deg",
  "nx": 64, "ny": 32, "nchan": 4, "npol": 2,
  "cell_x": "1arcsec", "cell_y": "2arcsec",
  "freq_start": "1.4GHz", "freq_step": "250kHz",
  "selection": {"field": "0", "correlation": "RR,LL"}
}`,
		"run.yaml": `phase_center: "J2000 10deg 20deg"
nx: 64
ny: 32
nchan: 4
npol: 2
cell_x: 1arcsec
cell_y: 2arcsec
freq_start: 1.4GHz
freq_step: 250kHz
selection:
  field: "0"
  correlation: RR,LL
`,
		"run.toml": `phase_center = "J2000 10deg 20deg"
nx = 64
ny = 32
nchan = 4
npol = 2
cell_x = "1arcsec"
cell_y = "2arcsec"
freq_start = "1.4GHz"
freq_step = "250kHz"

[selection]
field = "0"
correlation = "RR,LL"
`,
	}
	for name, body := range bodies {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadRunConfig(writeConfig(t, name, body))
			require.NoError(t, err)
			require.NotNil(t, cfg.NX)
			assert.Equal(t, 64, *cfg.NX)
			assert.Equal(t, 32, *cfg.NY)
			assert.Equal(t, 4, cfg.GetNChan())
			assert.Equal(t, 2, cfg.GetNPol())
			assert.Equal(t, 250e3, cfg.GetFreqStep())
			assert.Equal(t, "0", cfg.Selection.Field)
			assert.Equal(t, "RR,LL", cfg.Selection.Correlation)

			spec, err := cfg.ToGridSpec(context.Background(), nil)
			require.NoError(t, err)
			assert.InDelta(t, unit.AngleFromSec(1).Rad(), spec.CellX.Rad(), 1e-15)
			assert.InDelta(t, unit.AngleFromSec(2).Rad(), spec.CellY.Rad(), 1e-15)
			assert.Equal(t, 1.4e9, spec.FreqStart)
			assert.InDelta(t, 10, spec.PhaseCenter.Lon.Deg(), 1e-12)
			assert.InDelta(t, 20, spec.PhaseCenter.Lat.Deg(), 1e-12)
			_, err = uvbin.New(spec)
			assert.NoError(t, err)
		})
	}
}

func TestLoadRunConfigDefaults(t *testing.T) {
	cfg, err := LoadRunConfig(writeConfig(t, "min.yaml", "nx: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.GetNChan())
	assert.Equal(t, 1, cfg.GetNPol())
	assert.Equal(t, 1e6, cfg.GetFreqStep())
	assert.Equal(t, 0.5, cfg.GetMemFraction())
	assert.False(t, cfg.GetForceDisk())
	assert.False(t, cfg.GetWProjection())
	assert.Equal(t, 1.0, cfg.GetPadding())
	assert.Equal(t, uvbin.DefaultOutMS, cfg.GetOutput())

	_, err = cfg.ToGridSpec(context.Background(), nil)
	assert.EqualError(t, err, "missing required settings: cell_x, cell_y, freq_start, ny, phase_center")
}

func TestLoadRunConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"extension", "run.ini", "nx=8"},
		{"npol", "run.yaml", "npol: 3\n"},
		{"negative nx", "run.yaml", "nx: -4\n"},
		{"cell unit", "run.yaml", "cell_x: 3furlongs\n"},
		{"zero cell", "run.yaml", "cell_y: 0arcsec\n"},
		{"freq unit", "run.yaml", "freq_start: 1.4GBq\n"},
		{"zero step", "run.yaml", "freq_step: 0Hz\n"},
		{"mem fraction", "run.yaml", "mem_fraction: 1.5\n"},
		{"padding", "run.yaml", "padding: 0.5\n"},
		{"syntax", "run.json", "{nx: "},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRunConfig(writeConfig(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRunConfigTooLarge(t *testing.T) {
	body := make([]byte, maxFileSize+1)
	for i := range body {
		body[i] = '#'
	}
	_, err := LoadRunConfig(writeConfig(t, "big.yaml", string(body)))
	assert.ErrorContains(t, err, "too large")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("UVBIN_NX", "128")
	t.Setenv("UVBIN_FORCE_DISK", "true")
	t.Setenv("UVBIN_SELECTION_SCAN", "3~5")

	cfg, err := LoadRunConfig(writeConfig(t, "run.yaml", "nx: 8\nny: 8\nselection:\n  field: \"1\"\n"))
	require.NoError(t, err)
	assert.Equal(t, 128, *cfg.NX)
	assert.Equal(t, 8, *cfg.NY)
	assert.True(t, cfg.GetForceDisk())
	assert.Equal(t, "3~5", cfg.Selection.Scan)
	assert.Equal(t, "1", cfg.Selection.Field)

	t.Setenv("UVBIN_NPOL", "4")
	envOnly, err := LoadRunConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 128, *envOnly.NX)
	assert.Equal(t, 4, envOnly.GetNPol())
}

func TestToGridSpecFieldPhaseCenter(t *testing.T) {
	ctx := context.Background()
	field := coordsys.Direction{Frame: "J2000", Lon: unit.AngleFromDeg(45), Lat: unit.AngleFromDeg(-30)}
	ms, err := mstest.Create(ctx, filepath.Join(t.TempDir(), "in.ms"), mstest.Config{PhaseDir: field})
	require.NoError(t, err)
	defer ms.Close()

	cfg, err := LoadRunConfig(writeConfig(t, "run.yaml", `phase_center: "0"
nx: 16
ny: 16
cell_x: 1arcmin
cell_y: 1arcmin
freq_start: 1.4GHz
workers: 3
wplanes: 8
rows_per_buffer: 100
`))
	require.NoError(t, err)
	spec, err := cfg.ToGridSpec(ctx, ms)
	require.NoError(t, err)
	assert.InDelta(t, 45, spec.PhaseCenter.Lon.Deg(), 1e-9)
	assert.InDelta(t, -30, spec.PhaseCenter.Lat.Deg(), 1e-9)
	assert.Equal(t, 3, spec.Workers)
	assert.Equal(t, 8, spec.WPlanes)
	assert.Equal(t, 100, spec.RowsPerBuffer)

	_, err = cfg.ToGridSpec(ctx, nil)
	assert.ErrorContains(t, err, "phase_center")
}

func TestLoadExampleConfigFile(t *testing.T) {
	cfg, err := LoadRunConfig("../../" + ExampleConfigPath)
	if err != nil {
		t.Fatalf("Failed to load example: %v", err)
	}
	if *cfg.NX != 256 || cfg.GetNChan() != 8 || cfg.GetNPol() != 2 {
		t.Errorf("unexpected grid shape %d×%d×%d", *cfg.NX, cfg.GetNChan(), cfg.GetNPol())
	}
	if cfg.GetOutput() != "grid.ms" {
		t.Errorf("GetOutput() = %q, want grid.ms", cfg.GetOutput())
	}
	spec, err := cfg.ToGridSpec(context.Background(), nil)
	if err != nil {
		t.Fatalf("ToGridSpec: %v", err)
	}
	if _, err := uvbin.New(spec); err != nil {
		t.Errorf("example grid spec is invalid: %v", err)
	}
}
