// Package objsections locates the executable text section of object files.
package objsections

import (
	"errors"
	"fmt"
	"io"
)

// ErrNoText means the object has no executable section.
var ErrNoText = errors.New("objsections: no executable section")

// Section is the code section of a module.
type Section struct {
	Name string
	// Addr is the virtual address the section is loaded at with the
	// preferred image base.
	Addr uint64
	// Offset is the section start relative to the image base, the RVA for PE.
	Offset uint64
	Data   []byte
}

type rawFile interface {
	Text() (*Section, error)
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openPE,
	openElf,
	openMacho,
}

// Text returns the executable section of the ELF, PE or Mach-O file in r.
func Text(r io.ReaderAt) (*Section, error) {
	var errs []error
	for _, try := range objType {
		raw, err := try(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return raw.Text()
	}
	return nil, fmt.Errorf("unrecognized object file: %w", errors.Join(errs...))
}
