package sigscan

import (
	"bytes"
	"fmt"
	"os"

	"github.com/k2io/reshook/internal/objsections"
)

// Scanner searches one code section. Addresses it returns are base plus the
// offset of the match inside the section.
type Scanner struct {
	base uintptr
	text []byte
}

// New returns a scanner over text, which is loaded at base.
func New(base uintptr, text []byte) *Scanner {
	return &Scanner{base: base, text: text}
}

// Base is the address of the first byte of the section.
func (s *Scanner) Base() uintptr { return s.base }

// Size is the section length.
func (s *Scanner) Size() int { return len(s.text) }

// Scan returns the address of the first match in a single pass over the section.
func (s *Scanner) Scan(sig Signature) (uintptr, error) {
	off := s.index(sig, 0)
	if off < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, sig)
	}
	return s.base + uintptr(off), nil
}

// ScanText parses and scans a signature.
func (s *Scanner) ScanText(pattern string) (uintptr, error) {
	sig, err := Parse(pattern)
	if err != nil {
		return 0, err
	}
	return s.Scan(sig)
}

// Count returns how many times the signature matches, for ambiguity checks.
func (s *Scanner) Count(sig Signature) int {
	n := 0
	for off := s.index(sig, 0); off >= 0; off = s.index(sig, off+1) {
		n++
	}
	return n
}

func (s *Scanner) index(sig Signature, from int) int {
	k := sig.anchor()
	if k < 0 {
		return -1
	}
	first := sig.bytes[k]
	last := len(s.text) - sig.Len()
	for i := from; i <= last; i++ {
		// jump to the next candidate position of the anchoring byte
		j := bytes.IndexByte(s.text[i+k:last+k+1], first)
		if j < 0 {
			return -1
		}
		i += j
		if sig.Match(s.text[i:]) {
			return i
		}
	}
	return -1
}

// NewFileScanner scans the executable section of the binary at path.
// Addresses are virtual addresses of the image.
func NewFileScanner(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sec, err := objsections.Text(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(uintptr(sec.Addr), sec.Data), nil
}
