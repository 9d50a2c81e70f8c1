package reshook

import (
	"unsafe"
)

// Memory is the address space the patch engine works on.
type Memory interface {
	// Read copies len(p) bytes at addr into p.
	Read(addr uintptr, p []byte) error
	// Alloc returns a writable region of size bytes. A non-zero near asks for
	// a region reachable from near with a rel32 displacement.
	Alloc(near uintptr, size int) (uintptr, error)
	// Write stores p into a region returned by Alloc that is not sealed yet.
	Write(addr uintptr, p []byte) error
	// Seal makes an allocated region read-only and executable.
	Seal(addr uintptr, size int) error
	// Free releases a region returned by Alloc.
	Free(addr uintptr) error
	// Unprotect makes [addr, addr+size) writable until restore is called.
	Unprotect(addr uintptr, size int) (restore func() error, err error)
	// CompareAndSwapWord atomically replaces the 8-byte aligned word at addr.
	CompareAndSwapWord(addr uintptr, old, new uint64) (bool, error)
	// FlushInstructionCache invalidates cached code for the range.
	FlushInstructionCache(addr uintptr, size int)
}

// rel32Reach is how far a region may lie from the address it must be reachable from.
const rel32Reach = 0x7FFF0000

func reachable(from, to uintptr) bool {
	d := int64(to) - int64(from)
	return d > -rel32Reach && d < rel32Reach
}

func makeSlice(addr uintptr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func pageRange(addr, size, pageSize uintptr) (start, length uintptr) {
	start = pageSize * (addr / pageSize)
	length = pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	return start, length
}
