package objsections

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) Text() (*Section, error) {
	s := e.elf.Section(".text")
	if s == nil || s.Flags&elf.SHF_EXECINSTR == 0 {
		return nil, ErrNoText
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	return &Section{Name: s.Name, Addr: s.Addr, Offset: s.Addr, Data: data}, nil
}
