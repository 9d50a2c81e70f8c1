package resource

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"unsafe"
)

const guardByte = 0xEE

// record is a resource handle laid out in Go memory.
type record struct {
	mem  []byte
	heap []byte
}

func newRecord(t *testing.T, path string, capacity int) *record {
	t.Helper()
	if len(path) > capacity {
		t.Fatalf("path %q longer than capacity %d", path, capacity)
	}
	r := &record{mem: make([]byte, HandleLayout.Size())}
	s := r.mem[0x48:0x68]
	if capacity < stdStringInline {
		copy(s[:stdStringInline], path)
	} else {
		// capacity plus terminator plus a guard byte
		r.heap = make([]byte, capacity+2)
		r.heap[capacity+1] = guardByte
		copy(r.heap, path)
		binary.LittleEndian.PutUint64(s, uint64(uintptr(unsafe.Pointer(&r.heap[0]))))
	}
	binary.LittleEndian.PutUint64(s[stdStringLenOff:], uint64(len(path)))
	binary.LittleEndian.PutUint64(s[stdStringCapOff:], uint64(capacity))
	r.mem[0xA0] = 1
	r.mem[0xA1] = 2
	return r
}

func (r *record) addr() uintptr { return uintptr(unsafe.Pointer(&r.mem[0])) }

func (r *record) buffer() uintptr { return uintptr(binary.LittleEndian.Uint64(r.mem[0x48:])) }

func (r *record) data() uintptr { return uintptr(binary.LittleEndian.Uint64(r.mem[0xA8:])) }

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// cString returns a NUL-terminated copy of s and its address.
func cString(s string) ([]byte, uintptr) {
	b := append([]byte(s), 0)
	return b, uintptr(unsafe.Pointer(&b[0]))
}

// mapped reads the content of an override that is still attached.
func mapped(ov Override) []byte {
	if ov.Addr == 0 {
		return nil
	}
	return append([]byte{}, unsafe.Slice((*byte)(unsafe.Pointer(ov.Addr)), ov.Size)...)
}
