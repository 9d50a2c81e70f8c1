//go:build linux || darwin || freebsd

package reshook

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type unixMemory struct {
	page uintptr
}

func newOSMemory() osMemory {
	return &unixMemory{page: uintptr(unix.Getpagesize())}
}

func (u *unixMemory) pageSize() uintptr { return u.page }

func (u *unixMemory) alloc(hint, size uintptr) (uintptr, error) {
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return uintptr(p), nil
}

func (u *unixMemory) free(addr, size uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(addr), size)
}

func (u *unixMemory) protect(addr, size uintptr, executable, writable bool) error {
	prot := unix.PROT_READ
	if executable {
		prot |= unix.PROT_EXEC
	}
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mprotect(makeSlice(addr, size), prot)
}

// mprotect does not report the previous protection. Patched pages are
// assumed to be text, mapped read and execute.
func (u *unixMemory) unprotect(addr, size uintptr) (func() error, error) {
	if err := u.protect(addr, size, true, true); err != nil {
		return nil, err
	}
	return func() error { return u.protect(addr, size, true, false) }, nil
}

// x86 keeps instruction fetch coherent with stores.
func (u *unixMemory) flush(addr, size uintptr) {}
