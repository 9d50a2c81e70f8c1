package resource

import (
	"errors"
	"fmt"
	"sort"
)

// ErrLayout reports an invalid record layout.
var ErrLayout = errors.New("resource: invalid layout")

// Encoding is how a field's bytes are interpreted.
type Encoding int

const (
	Uint8 Encoding = iota
	Pointer
	// StdString is an MSVC std::string: a 16-byte inline buffer or a heap
	// pointer, followed by the length and the reserved capacity.
	StdString
)

const (
	pointerSize   = 8
	stdStringSize = 0x20

	stdStringInline = 16
	stdStringLenOff = 0x10
	stdStringCapOff = 0x18
)

func (e Encoding) width() uintptr {
	switch e {
	case Uint8:
		return 1
	case Pointer:
		return pointerSize
	case StdString:
		return stdStringSize
	}
	return 0
}

func (e Encoding) String() string {
	switch e {
	case Uint8:
		return "uint8"
	case Pointer:
		return "pointer"
	case StdString:
		return "std::string"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// Field is one {offset, width, encoding} entry of a record layout.
type Field struct {
	Name     string
	Offset   uintptr
	Width    uintptr
	Encoding Encoding
}

// Layout is a verified table of the fields of a foreign record.
type Layout struct {
	size   uintptr
	fields map[string]Field
}

// NewLayout checks that every field lies inside the record, that widths
// match encodings and that no two fields overlap.
func NewLayout(size uintptr, fields ...Field) (*Layout, error) {
	l := &Layout{size: size, fields: make(map[string]Field, len(fields))}
	sorted := append([]Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i, f := range sorted {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: unnamed field at 0x%X", ErrLayout, f.Offset)
		}
		if _, dup := l.fields[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %s", ErrLayout, f.Name)
		}
		if w := f.Encoding.width(); w == 0 || w != f.Width {
			return nil, fmt.Errorf("%w: field %s is %d bytes, %s needs %d", ErrLayout, f.Name, f.Width, f.Encoding, w)
		}
		if f.Offset+f.Width > size || f.Offset+f.Width < f.Offset {
			return nil, fmt.Errorf("%w: field %s [0x%X+0x%X] outside record of 0x%X", ErrLayout, f.Name, f.Offset, f.Width, size)
		}
		if f.Encoding != Uint8 && f.Offset%pointerSize != 0 {
			return nil, fmt.Errorf("%w: field %s at 0x%X is not pointer aligned", ErrLayout, f.Name, f.Offset)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Offset+prev.Width > f.Offset {
				return nil, fmt.Errorf("%w: fields %s and %s overlap", ErrLayout, prev.Name, f.Name)
			}
		}
		l.fields[f.Name] = f
	}
	return l, nil
}

// MustLayout is NewLayout for layouts compiled into the program.
func MustLayout(size uintptr, fields ...Field) *Layout {
	l, err := NewLayout(size, fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Size is the record size in bytes.
func (l *Layout) Size() uintptr { return l.size }

// Field returns the named field.
func (l *Layout) Field(name string) (Field, bool) {
	f, ok := l.fields[name]
	return f, ok
}

// Names of the resource handle fields.
const (
	FieldFileName = "FileName"
	FieldHState   = "HState"
	FieldRState   = "RState"
	FieldData     = "Data"
)

// HandleLayout is the 64-bit resource handle record.
var HandleLayout = MustLayout(0xB0,
	Field{Name: FieldFileName, Offset: 0x48, Width: stdStringSize, Encoding: StdString},
	Field{Name: FieldHState, Offset: 0xA0, Width: 1, Encoding: Uint8},
	Field{Name: FieldRState, Offset: 0xA1, Width: 1, Encoding: Uint8},
	Field{Name: FieldData, Offset: 0xA8, Width: pointerSize, Encoding: Pointer},
)
