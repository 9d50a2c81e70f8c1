package objsections

import (
	"bytes"
	"debug/pe"
	"fmt"
	"io"
)

const imageScnMemExecute = 0x20000000

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

func (f *peFile) imageBase() uint64 {
	switch oh := f.pe.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		return oh.ImageBase
	case *pe.OptionalHeader32:
		return uint64(oh.ImageBase)
	}
	return 0
}

func (f *peFile) textSection() (*pe.Section, error) {
	if s := f.pe.Section(".text"); s != nil {
		return s, nil
	}
	for _, s := range f.pe.Sections {
		if s.Characteristics&imageScnMemExecute != 0 {
			return s, nil
		}
	}
	return nil, ErrNoText
}

// Text reads the section from its file position.
func (f *peFile) Text() (*Section, error) {
	s, err := f.textSection()
	if err != nil {
		return nil, err
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	if s.VirtualSize != 0 && uint32(len(data)) > s.VirtualSize {
		data = data[:s.VirtualSize]
	}
	return &Section{
		Name:   s.Name,
		Addr:   f.imageBase() + uint64(s.VirtualAddress),
		Offset: uint64(s.VirtualAddress),
		Data:   data,
	}, nil
}

// ImageText returns the executable section of a PE image laid out in memory
// by the loader. Data aliases image.
func ImageText(image []byte) (*Section, error) {
	f, err := pe.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw := &peFile{f}
	s, err := raw.textSection()
	if err != nil {
		return nil, err
	}
	start, size := uint64(s.VirtualAddress), uint64(s.VirtualSize)
	if size == 0 {
		size = uint64(s.Size)
	}
	if start+size > uint64(len(image)) {
		return nil, fmt.Errorf("objsections: section %s [0x%X+0x%X] outside image of 0x%X bytes", s.Name, start, size, len(image))
	}
	return &Section{
		Name:   s.Name,
		Addr:   raw.imageBase() + start,
		Offset: start,
		Data:   image[start : start+size],
	}, nil
}
