package resource

import (
	"errors"
	"runtime"
	"unsafe"
)

var errUnterminated = errors.New("resource: unterminated string argument")

// readCString decodes the NUL-terminated ANSI string at p.
func readCString(p uintptr) (string, error) {
	if p == 0 {
		return "", ErrNullRecord
	}
	for n := 0; n < maxStringLen; n++ {
		if *(*byte)(unsafe.Pointer(p + uintptr(n))) == 0 {
			return decodeANSI(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
		}
	}
	return "", errUnterminated
}

// pinnedString is a NUL-terminated copy of a string that native code may
// read until release is called.
type pinnedString struct {
	buf    []byte
	pinner runtime.Pinner
}

func newPinnedString(s string) (*pinnedString, error) {
	enc, err := encodeANSI(s)
	if err != nil {
		return nil, err
	}
	ps := &pinnedString{buf: append(enc, 0)}
	ps.pinner.Pin(&ps.buf[0])
	return ps, nil
}

func (ps *pinnedString) addr() uintptr { return uintptr(unsafe.Pointer(&ps.buf[0])) }

func (ps *pinnedString) release() {
	ps.pinner.Unpin()
	ps.buf = nil
}
