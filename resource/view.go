package resource

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrCapacityOverflow reports a value cut to the reserved capacity of a field.
	ErrCapacityOverflow = errors.New("resource: value exceeds field capacity")
	// ErrNullRecord is returned for a view on address zero.
	ErrNullRecord = errors.New("resource: null record")

	errNoField     = errors.New("resource: no such field")
	errEncoding    = errors.New("resource: field encoding mismatch")
	errCorruptText = errors.New("resource: corrupt string field")
)

// maxStringLen bounds reads of foreign strings.
const maxStringLen = 0x1000

// View is a bounds-checked accessor of a record owned by the host. It never
// copies or frees the record; writes happen in place.
type View struct {
	base   uintptr
	layout *Layout
}

// NewView wraps the record at base.
func NewView(base uintptr, layout *Layout) (View, error) {
	if base == 0 {
		return View{}, ErrNullRecord
	}
	if layout == nil {
		return View{}, fmt.Errorf("%w: nil", ErrLayout)
	}
	return View{base: base, layout: layout}, nil
}

// Base is the record address.
func (v View) Base() uintptr { return v.base }

func (v View) field(name string, enc Encoding) (unsafe.Pointer, error) {
	f, ok := v.layout.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoField, name)
	}
	if f.Encoding != enc {
		return nil, fmt.Errorf("%w: %s is %s, not %s", errEncoding, name, f.Encoding, enc)
	}
	return unsafe.Pointer(v.base + f.Offset), nil
}

func (v View) Uint8(name string) (uint8, error) {
	p, err := v.field(name, Uint8)
	if err != nil {
		return 0, err
	}
	return *(*uint8)(p), nil
}

func (v View) SetUint8(name string, val uint8) error {
	p, err := v.field(name, Uint8)
	if err != nil {
		return err
	}
	*(*uint8)(p) = val
	return nil
}

func (v View) Pointer(name string) (uintptr, error) {
	p, err := v.field(name, Pointer)
	if err != nil {
		return 0, err
	}
	return uintptr(*(*uint64)(p)), nil
}

func (v View) SetPointer(name string, val uintptr) error {
	p, err := v.field(name, Pointer)
	if err != nil {
		return err
	}
	*(*uint64)(p) = uint64(val)
	return nil
}

type stdString struct {
	data     uintptr
	size     uint64
	capacity uint64
	lenAt    *uint64
}

func (v View) readStdString(name string) (stdString, error) {
	p, err := v.field(name, StdString)
	if err != nil {
		return stdString{}, err
	}
	s := stdString{
		lenAt:    (*uint64)(unsafe.Add(p, stdStringLenOff)),
		capacity: *(*uint64)(unsafe.Add(p, stdStringCapOff)),
	}
	s.size = *s.lenAt
	if s.size > s.capacity || s.size > maxStringLen {
		return stdString{}, fmt.Errorf("%w: %s size %d capacity %d", errCorruptText, name, s.size, s.capacity)
	}
	if s.capacity < stdStringInline {
		s.data = uintptr(p)
	} else {
		s.data = uintptr(*(*uint64)(p))
	}
	if s.data == 0 {
		return stdString{}, fmt.Errorf("%w: %s has no buffer", errCorruptText, name)
	}
	return s, nil
}

// Text decodes a string field.
func (v View) Text(name string) (string, error) {
	s, err := v.readStdString(name)
	if err != nil {
		return "", err
	}
	return decodeANSI(unsafe.Slice((*byte)(unsafe.Pointer(s.data)), s.size))
}

// SetText overwrites a string field in place. A value longer than the
// reserved capacity is cut to it, written, and reported with
// ErrCapacityOverflow; the buffer is never reallocated.
func (v View) SetText(name, val string) (written int, err error) {
	s, err := v.readStdString(name)
	if err != nil {
		return 0, err
	}
	enc, err := encodeANSI(val)
	if err != nil {
		return 0, err
	}
	n := uint64(len(enc))
	if n > s.capacity {
		err = fmt.Errorf("%w: %s holds %d bytes, got %d", ErrCapacityOverflow, name, s.capacity, n)
		n = s.capacity
	}
	// the buffer has capacity+1 bytes for the terminator
	buf := unsafe.Slice((*byte)(unsafe.Pointer(s.data)), s.capacity+1)
	copy(buf, enc[:n])
	buf[n] = 0
	*s.lenAt = n
	return int(n), err
}

func decodeANSI(b []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func encodeANSI(s string) ([]byte, error) {
	out, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", s, err)
	}
	return out, nil
}

// Handle is the host's resource handle record.
type Handle struct {
	View
}

// NewHandle wraps the resource handle at addr.
func NewHandle(addr uintptr, layout *Layout) (Handle, error) {
	if layout == nil {
		layout = HandleLayout
	}
	v, err := NewView(addr, layout)
	return Handle{v}, err
}

func (h Handle) FileName() (string, error) { return h.Text(FieldFileName) }

func (h Handle) SetFileName(path string) (int, error) { return h.SetText(FieldFileName, path) }

func (h Handle) HState() (uint8, error) { return h.Uint8(FieldHState) }

func (h Handle) RState() (uint8, error) { return h.Uint8(FieldRState) }

func (h Handle) Data() (uintptr, error) { return h.Pointer(FieldData) }

func (h Handle) SetData(p uintptr) error { return h.SetPointer(FieldData, p) }
