package monitoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/banshee-data/uvbin/internal/timeutil"
	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)
	Logf("hello %d", 1)
	assert.Equal(t, []string{"hello 1"}, *lines)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted") })
	assert.Len(t, *lines, 1)
}

func TestWarnf(t *testing.T) {
	lines := captureLogs(t)
	Warnf("WProj", "support %d clipped", 7)
	assert.Equal(t, []string{"[WProj] WARN: support 7 clipped"}, *lines)
}

// -----------------------------------------------------------------------------
// ProgressMeter
// -----------------------------------------------------------------------------

func TestProgressMeter_LogsEachStepOnce(t *testing.T) {
	lines := captureLogs(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	pm := NewProgressMeter("Gridding data", 100, clock)

	pm.Add(5)
	assert.Empty(t, *lines)
	pm.Add(10)
	assert.Len(t, *lines, 1)
	assert.Contains(t, (*lines)[0], "10%")

	clock.Advance(2 * time.Second)
	pm.Add(85)
	assert.Len(t, *lines, 10)
	assert.Contains(t, (*lines)[9], "100%")
	assert.Contains(t, (*lines)[9], "2s")
	assert.Equal(t, int64(100), pm.Done())
}

func TestProgressMeter_ZeroTotalIsQuiet(t *testing.T) {
	lines := captureLogs(t)
	pm := NewProgressMeter("x", 0, nil)
	pm.Add(10)
	assert.Empty(t, *lines)

	var nilMeter *ProgressMeter
	assert.NotPanics(t, func() { nilMeter.Add(1) })
}
