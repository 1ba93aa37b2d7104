// Package config loads binning run configurations from JSON, TOML or YAML
// files with UVBIN_* environment overrides.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/msselect"
	"github.com/banshee-data/uvbin/internal/units"
	"github.com/banshee-data/uvbin/internal/uvbin"
	"github.com/spf13/viper"
)

// ExampleConfigPath is the annotated example shipped with the repository.
const ExampleConfigPath = "config/run.example.yaml"

// EnvPrefix prefixes environment overrides, e.g. UVBIN_NX=512 or
// UVBIN_SELECTION_FIELD=3C286.
const EnvPrefix = "UVBIN"

const maxFileSize = 1 * 1024 * 1024 // 1MB

var validExtensions = []string{".json", ".toml", ".yaml", ".yml"}

// RunConfig describes one binning run. Unset fields fall back to the
// defaults of their Get* accessor; the grid shape, cell sizes, start
// frequency and phase centre have none and must be given.
type RunConfig struct {
	// PhaseCenter is a direction ("J2000 13h31m08.3 +30d30m33") or a FIELD
	// id of the first input.
	PhaseCenter *string `json:"phase_center,omitempty" mapstructure:"phase_center"`
	NX          *int    `json:"nx,omitempty" mapstructure:"nx"`
	NY          *int    `json:"ny,omitempty" mapstructure:"ny"`
	NChan       *int    `json:"nchan,omitempty" mapstructure:"nchan"`
	NPol        *int    `json:"npol,omitempty" mapstructure:"npol"`
	CellX       *string `json:"cell_x,omitempty" mapstructure:"cell_x"` // e.g. "1arcsec"
	CellY       *string `json:"cell_y,omitempty" mapstructure:"cell_y"`
	FreqStart   *string `json:"freq_start,omitempty" mapstructure:"freq_start"` // e.g. "1.4GHz"
	FreqStep    *string `json:"freq_step,omitempty" mapstructure:"freq_step"`

	MemFraction   *float64 `json:"mem_fraction,omitempty" mapstructure:"mem_fraction"`
	ForceDisk     *bool    `json:"force_disk,omitempty" mapstructure:"force_disk"`
	WProjection   *bool    `json:"wprojection,omitempty" mapstructure:"wprojection"`
	WPlanes       *int     `json:"wplanes,omitempty" mapstructure:"wplanes"`
	Workers       *int     `json:"workers,omitempty" mapstructure:"workers"`
	Padding       *float64 `json:"padding,omitempty" mapstructure:"padding"`
	RowsPerBuffer *int     `json:"rows_per_buffer,omitempty" mapstructure:"rows_per_buffer"`

	Inputs    []string           `json:"inputs,omitempty" mapstructure:"inputs"`
	Output    *string            `json:"output,omitempty" mapstructure:"output"`
	Selection msselect.Selection `json:"selection" mapstructure:"selection"`
}

// configKeys lists every key that may be overridden from the environment.
var configKeys = []string{
	"phase_center", "nx", "ny", "nchan", "npol", "cell_x", "cell_y", "freq_start", "freq_step",
	"mem_fraction", "force_disk", "wprojection", "wplanes", "workers", "padding", "rows_per_buffer",
	"inputs", "output",
	"selection.spw", "selection.field", "selection.baseline", "selection.scan", "selection.uvrange",
	"selection.taql", "selection.subarray", "selection.correlation", "selection.intent", "selection.obs",
}

// LoadRunConfig reads a run configuration from path. The format follows the
// file extension. Environment variables named UVBIN_<KEY>, with dots in
// nested keys replaced by underscores, override the file.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if !slices.Contains(validExtensions, ext) {
		return nil, fmt.Errorf("config file must have one of %s extensions, got %q",
			strings.Join(validExtensions, ", "), ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	v := newViper()
	v.SetConfigFile(cleanPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

// LoadRunConfigFromEnv builds a run configuration from UVBIN_* variables
// alone.
func LoadRunConfigFromEnv() (*RunConfig, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range configKeys {
		_ = v.BindEnv(k)
	}
	return v
}

func decode(v *viper.Viper) (*RunConfig, error) {
	cfg := &RunConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *RunConfig) Validate() error {
	for name, p := range map[string]*int{"nx": c.NX, "ny": c.NY, "nchan": c.NChan} {
		if p != nil && *p <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *p)
		}
	}
	if c.NPol != nil && *c.NPol != 1 && *c.NPol != 2 && *c.NPol != 4 {
		return fmt.Errorf("npol must be 1, 2 or 4, got %d", *c.NPol)
	}
	for name, p := range map[string]*string{"cell_x": c.CellX, "cell_y": c.CellY} {
		if p == nil {
			continue
		}
		a, err := units.ParseAngle(*p)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *p, err)
		}
		if a == 0 {
			return fmt.Errorf("%s must be non-zero", name)
		}
	}
	if c.FreqStart != nil {
		f, err := units.ParseFrequency(*c.FreqStart)
		if err != nil {
			return fmt.Errorf("invalid freq_start '%s': %w", *c.FreqStart, err)
		}
		if f <= 0 {
			return fmt.Errorf("freq_start must be positive, got %s", *c.FreqStart)
		}
	}
	if c.FreqStep != nil {
		f, err := units.ParseFrequency(*c.FreqStep)
		if err != nil {
			return fmt.Errorf("invalid freq_step '%s': %w", *c.FreqStep, err)
		}
		if f == 0 {
			return fmt.Errorf("freq_step must be non-zero")
		}
	}
	if c.MemFraction != nil && (*c.MemFraction <= 0 || *c.MemFraction > 1) {
		return fmt.Errorf("mem_fraction must be in (0,1], got %f", *c.MemFraction)
	}
	if c.Padding != nil && *c.Padding < 1 {
		return fmt.Errorf("padding must be at least 1, got %f", *c.Padding)
	}
	if c.WPlanes != nil && *c.WPlanes < 0 {
		return fmt.Errorf("wplanes must be non-negative, got %d", *c.WPlanes)
	}
	return nil
}

// GetNChan returns nchan or the default of one channel.
func (c *RunConfig) GetNChan() int {
	if c.NChan == nil {
		return 1
	}
	return *c.NChan
}

// GetNPol returns npol or the default of one polarization.
func (c *RunConfig) GetNPol() int {
	if c.NPol == nil {
		return 1
	}
	return *c.NPol
}

// GetFreqStep returns the channel width in Hz, defaulting to 1 MHz.
func (c *RunConfig) GetFreqStep() float64 {
	if c.FreqStep == nil {
		return 1e6
	}
	f, err := units.ParseFrequency(*c.FreqStep)
	if err != nil {
		return 1e6
	}
	return f
}

// GetMemFraction returns mem_fraction or the default.
func (c *RunConfig) GetMemFraction() float64 {
	if c.MemFraction == nil {
		return 0.5
	}
	return *c.MemFraction
}

// GetForceDisk returns force_disk or the default.
func (c *RunConfig) GetForceDisk() bool {
	if c.ForceDisk == nil {
		return false
	}
	return *c.ForceDisk
}

// GetWProjection returns wprojection or the default.
func (c *RunConfig) GetWProjection() bool {
	if c.WProjection == nil {
		return false
	}
	return *c.WProjection
}

// GetPadding returns padding or the default.
func (c *RunConfig) GetPadding() float64 {
	if c.Padding == nil {
		return 1
	}
	return *c.Padding
}

// GetOutput returns the output table path or uvbin.DefaultOutMS.
func (c *RunConfig) GetOutput() string {
	if c.Output == nil || *c.Output == "" {
		return uvbin.DefaultOutMS
	}
	return *c.Output
}

// ToGridSpec resolves the configuration into a grid description. A FIELD id
// phase centre is looked up in ms, which may be nil otherwise.
func (c *RunConfig) ToGridSpec(ctx context.Context, ms *msdb.MS) (uvbin.GridSpec, error) {
	var missing []string
	for name, set := range map[string]bool{
		"phase_center": c.PhaseCenter != nil, "nx": c.NX != nil, "ny": c.NY != nil,
		"cell_x": c.CellX != nil, "cell_y": c.CellY != nil, "freq_start": c.FreqStart != nil,
	} {
		if !set {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return uvbin.GridSpec{}, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	phase, err := uvbin.ParsePhaseCenter(ctx, *c.PhaseCenter, ms)
	if err != nil {
		return uvbin.GridSpec{}, fmt.Errorf("phase_center: %w", err)
	}
	cellX, err := units.ParseAngle(*c.CellX)
	if err != nil {
		return uvbin.GridSpec{}, err
	}
	cellY, err := units.ParseAngle(*c.CellY)
	if err != nil {
		return uvbin.GridSpec{}, err
	}
	start, err := units.ParseFrequency(*c.FreqStart)
	if err != nil {
		return uvbin.GridSpec{}, err
	}

	spec := uvbin.GridSpec{
		PhaseCenter: phase,
		NX:          *c.NX,
		NY:          *c.NY,
		NChan:       c.GetNChan(),
		NPol:        c.GetNPol(),
		CellX:       cellX,
		CellY:       cellY,
		FreqStart:   start,
		FreqStep:    c.GetFreqStep(),
		MemFraction: c.GetMemFraction(),
		WProjection: c.GetWProjection(),
		Padding:     c.GetPadding(),
	}
	if c.WPlanes != nil {
		spec.WPlanes = *c.WPlanes
	}
	if c.Workers != nil {
		spec.Workers = *c.Workers
	}
	if c.RowsPerBuffer != nil {
		spec.RowsPerBuffer = *c.RowsPerBuffer
	}
	return spec, nil
}
