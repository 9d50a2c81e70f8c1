//go:build windows

package reshook

import (
	"os"

	"golang.org/x/sys/windows"
)

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	flushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

type winMemory struct{}

func newOSMemory() osMemory { return winMemory{} }

func (winMemory) pageSize() uintptr { return uintptr(os.Getpagesize()) }

func (winMemory) alloc(hint, size uintptr) (uintptr, error) {
	return windows.VirtualAlloc(hint, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
}

func (winMemory) free(addr, _ uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func (winMemory) protect(addr, size uintptr, executable, writable bool) error {
	var prot uint32
	switch {
	case executable && writable:
		prot = windows.PAGE_EXECUTE_READWRITE
	case executable:
		prot = windows.PAGE_EXECUTE_READ
	case writable:
		prot = windows.PAGE_READWRITE
	default:
		prot = windows.PAGE_READONLY
	}
	var old uint32
	return windows.VirtualProtect(addr, size, prot, &old)
}

func (winMemory) unprotect(addr, size uintptr) (func() error, error) {
	var old uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return nil, err
	}
	return func() error {
		var prev uint32
		return windows.VirtualProtect(addr, size, old, &prev)
	}, nil
}

func (winMemory) flush(addr, size uintptr) {
	flushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
}
