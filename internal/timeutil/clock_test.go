package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	t.Parallel()
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, clock.Since(now.Add(-time.Second)), time.Second)
}

func TestMockClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, clock.Since(start))

	later := start.Add(time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestMJDSeconds(t *testing.T) {
	t.Parallel()
	epoch := time.Date(1858, 11, 17, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0, MJDSeconds(epoch), 1e-9)

	// MJD 51544.5 is J2000.0
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 51544.5*86400, MJDSeconds(j2000), 1e-6)
}
