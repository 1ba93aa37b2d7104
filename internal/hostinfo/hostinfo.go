// Package hostinfo reports host memory figures used to size in-memory grids
// and convolution kernels.
package hostinfo

// Memory is a snapshot of host memory in KiB.
type Memory struct {
	TotalKiB uint64
	FreeKiB  uint64
}

// MemoryTotalKiB returns the physical memory of the host in KiB.
func MemoryTotalKiB() uint64 { return Read().TotalKiB }

// MemoryFreeKiB returns the memory currently available to the process in KiB.
func MemoryFreeKiB() uint64 { return Read().FreeKiB }

// Read samples host memory, falling back to fixed figures when the platform
// query fails.
func Read() Memory {
	m, err := read()
	if err != nil || m.TotalKiB == 0 {
		return fallback
	}
	if m.FreeKiB > m.TotalKiB {
		m.FreeKiB = m.TotalKiB
	}
	return m
}

var fallback = Memory{TotalKiB: 8 << 20, FreeKiB: 2 << 20}
