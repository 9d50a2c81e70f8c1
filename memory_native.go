//go:build linux || darwin || freebsd || windows

package reshook

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// allocStep is the distance between probed addresses when looking for a
// region near a target, the allocation granularity on windows.
const allocStep = 0x10000

// maxNearProbes bounds the search for a near region on each side of the target.
const maxNearProbes = 0x7FFF0000 / allocStep

// nativeMemory is the address space of the running process.
type nativeMemory struct {
	mu      sync.Mutex
	regions map[uintptr]uintptr
	os      osMemory
}

// osMemory is the part of nativeMemory that differs per platform.
type osMemory interface {
	alloc(hint, size uintptr) (uintptr, error)
	free(addr, size uintptr) error
	protect(addr, size uintptr, executable, writable bool) error
	// unprotect makes code pages writable and returns how to put back the
	// protection they had.
	unprotect(addr, size uintptr) (restore func() error, err error)
	flush(addr, size uintptr)
	pageSize() uintptr
}

// NativeMemory returns the Memory of the running process.
func NativeMemory() (Memory, error) {
	return &nativeMemory{regions: make(map[uintptr]uintptr), os: newOSMemory()}, nil
}

func (m *nativeMemory) Read(addr uintptr, p []byte) error {
	if addr == 0 {
		return ErrNullAddress
	}
	copy(p, makeSlice(addr, uintptr(len(p))))
	return nil
}

func (m *nativeMemory) Write(addr uintptr, p []byte) error {
	m.mu.Lock()
	_, ok := m.owner(addr, uintptr(len(p)))
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("write 0x%X: not an allocated region", addr)
	}
	copy(makeSlice(addr, uintptr(len(p))), p)
	return nil
}

// owner returns the region containing [addr, addr+size).
func (m *nativeMemory) owner(addr, size uintptr) (uintptr, bool) {
	for base, n := range m.regions {
		if addr >= base && addr+size <= base+n {
			return base, true
		}
	}
	return 0, false
}

func (m *nativeMemory) Alloc(near uintptr, size int) (uintptr, error) {
	length, _ := m.roundUp(uintptr(size))
	var addr uintptr
	var err error
	if near == 0 {
		addr, err = m.os.alloc(0, length)
	} else {
		addr, err = m.allocNear(near, length)
	}
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.regions[addr] = length
	m.mu.Unlock()
	return addr, nil
}

func (m *nativeMemory) roundUp(size uintptr) (uintptr, uintptr) {
	ps := m.os.pageSize()
	return (size + ps - 1) &^ (ps - 1), ps
}

func (m *nativeMemory) allocNear(near, length uintptr) (uintptr, error) {
	origin := near &^ (allocStep - 1)
	for i := uintptr(1); i < maxNearProbes; i++ {
		off := i * allocStep
		candidates := []uintptr{origin + off}
		if origin > off {
			candidates = append(candidates, origin-off)
		}
		for _, hint := range candidates {
			addr, err := m.os.alloc(hint, length)
			if err != nil || addr == 0 {
				continue
			}
			if reachable(near, addr) && reachable(near, addr+length) {
				return addr, nil
			}
			// the hint was not honoured, keep probing
			m.os.free(addr, length)
		}
	}
	return 0, fmt.Errorf("no free region within rel32 range of 0x%X", near)
}

func (m *nativeMemory) Seal(addr uintptr, size int) error {
	m.mu.Lock()
	base, ok := m.owner(addr, uintptr(size))
	length := m.regions[base]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("seal 0x%X: not an allocated region", addr)
	}
	return m.os.protect(base, length, true, false)
}

func (m *nativeMemory) Free(addr uintptr) error {
	m.mu.Lock()
	length, ok := m.regions[addr]
	delete(m.regions, addr)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("free 0x%X: not an allocated region", addr)
	}
	return m.os.free(addr, length)
}

func (m *nativeMemory) Unprotect(addr uintptr, size int) (func() error, error) {
	start, length := pageRange(addr, uintptr(size), m.os.pageSize())
	return m.os.unprotect(start, length)
}

func (m *nativeMemory) CompareAndSwapWord(addr uintptr, old, new uint64) (bool, error) {
	if addr&7 != 0 {
		return false, fmt.Errorf("0x%X: %w", addr, ErrUnalignedTarget)
	}
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(addr)), old, new), nil
}

func (m *nativeMemory) FlushInstructionCache(addr uintptr, size int) {
	m.os.flush(addr, uintptr(size))
}
