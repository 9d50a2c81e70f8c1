package objsections

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) Text() (*Section, error) {
	s := f.macho.Section("__text")
	if s == nil {
		return nil, ErrNoText
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	var base uint64
	if seg := f.macho.Segment("__TEXT"); seg != nil {
		base = seg.Addr
	}
	return &Section{Name: s.Name, Addr: s.Addr, Offset: s.Addr - base, Data: data}, nil
}
