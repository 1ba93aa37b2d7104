//go:build linux

package hostinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func read() (Memory, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Memory{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return Memory{
		TotalKiB: uint64(info.Totalram) * unit / 1024,
		FreeKiB:  (uint64(info.Freeram) + uint64(info.Bufferram)) * unit / 1024,
	}, nil
}
