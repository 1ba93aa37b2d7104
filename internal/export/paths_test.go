package export

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductPaths(t *testing.T) {
	dir := t.TempDir()
	p, err := ProductPaths(dir, "/data/obs/grid.ms")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "grid.fits"), p.FITS)
	assert.Equal(t, filepath.Join(dir, "grid_uv.png"), p.Plot)
	assert.Equal(t, filepath.Join(dir, "grid_weights.html"), p.HTML)

	p, err = ProductPaths(dir, "../run 3 (wide)/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_3_wide.fits"), p.FITS)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"grid", "grid"},
		{"M51 C-band", "M51_C-band"},
		{"a//b\\c", "a_b_c"},
		{"..", "grid"},
		{"", "grid"},
		{"Ωmega", "mega"},
		{"_x_", "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeName(tt.in), "sanitizeName(%q)", tt.in)
	}
	assert.LessOrEqual(t, len(sanitizeName(strings.Repeat("a", 300))), 128)
}

func TestWithinDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, withinDir(filepath.Join(dir, "a.fits"), dir))
	assert.NoError(t, withinDir(filepath.Join(dir, "sub", "a.fits"), dir))
	assert.Error(t, withinDir(filepath.Join(dir, "..", "a.fits"), dir))
	assert.Error(t, withinDir("/etc/passwd", dir))
}
