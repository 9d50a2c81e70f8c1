//go:build !linux && !darwin && !freebsd && !windows

package reshook

import (
	"fmt"
	"runtime"
)

// NativeMemory is not available on this platform.
func NativeMemory() (Memory, error) {
	return nil, fmt.Errorf("unsupported os: %s", runtime.GOOS)
}
