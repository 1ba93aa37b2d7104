//go:build !linux

package hostinfo

import "errors"

func read() (Memory, error) {
	return Memory{}, errors.New("host memory query not supported on this platform")
}
