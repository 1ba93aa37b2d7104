package hostinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRead(t *testing.T) {
	m := Read()
	assert.Greater(t, m.TotalKiB, uint64(0))
	assert.LessOrEqual(t, m.FreeKiB, m.TotalKiB)
	assert.Equal(t, m.TotalKiB, MemoryTotalKiB())
}
