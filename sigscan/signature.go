// Package sigscan locates code in a loaded module by masked byte signatures.
package sigscan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound means no region matches the signature.
	ErrNotFound = errors.New("sigscan: signature not found")
	// ErrBadSignature means the signature text could not be parsed.
	ErrBadSignature = errors.New("sigscan: malformed signature")
)

// Signature is an ordered sequence of bytes where masked positions match any byte.
type Signature struct {
	bytes []byte
	mask  []bool // true means the byte must match
}

// Parse reads a signature such as "48 8B 05 ?? ?? ?? ?? 48 85 C0". Tokens are
// separated by whitespace; "?" and "??" are wildcards.
func Parse(s string) (Signature, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Signature{}, fmt.Errorf("%w: empty", ErrBadSignature)
	}
	sig := Signature{
		bytes: make([]byte, len(fields)),
		mask:  make([]bool, len(fields)),
	}
	for i, f := range fields {
		if f == "?" || f == "??" {
			continue
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return Signature{}, fmt.Errorf("%w: token %d %q", ErrBadSignature, i, f)
		}
		sig.bytes[i] = byte(v)
		sig.mask[i] = true
	}
	if sig.anchor() < 0 {
		return Signature{}, fmt.Errorf("%w: only wildcards", ErrBadSignature)
	}
	return sig, nil
}

// MustParse is Parse for signatures compiled into the program.
func MustParse(s string) Signature {
	sig, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sig
}

// FromMask builds a signature from raw bytes and a mask string where 'x'
// must match and '?' is a wildcard.
func FromMask(pattern []byte, mask string) (Signature, error) {
	if len(pattern) != len(mask) || len(pattern) == 0 {
		return Signature{}, fmt.Errorf("%w: pattern has %d bytes, mask %d", ErrBadSignature, len(pattern), len(mask))
	}
	sig := Signature{
		bytes: append([]byte{}, pattern...),
		mask:  make([]bool, len(mask)),
	}
	for i := 0; i < len(mask); i++ {
		switch mask[i] {
		case 'x':
			sig.mask[i] = true
		case '?':
			sig.bytes[i] = 0
		default:
			return Signature{}, fmt.Errorf("%w: mask char %q", ErrBadSignature, mask[i])
		}
	}
	if sig.anchor() < 0 {
		return Signature{}, fmt.Errorf("%w: only wildcards", ErrBadSignature)
	}
	return sig, nil
}

// anchor is the offset of the first byte that must match, -1 if there is none.
func (s Signature) anchor() int {
	for i, m := range s.mask {
		if m {
			return i
		}
	}
	return -1
}

// Len is the number of bytes the signature covers.
func (s Signature) Len() int { return len(s.bytes) }

// Match reports whether b starts with the signature.
func (s Signature) Match(b []byte) bool {
	if len(b) < len(s.bytes) {
		return false
	}
	for i, want := range s.bytes {
		if s.mask[i] && b[i] != want {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	var sb strings.Builder
	for i, b := range s.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if !s.mask[i] {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// MarshalText keeps signatures readable in configuration files.
func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	sig, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = sig
	return nil
}
