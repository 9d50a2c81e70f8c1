// Package resolve turns named byte signatures into addresses once at startup.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/k2io/reshook/sigscan"
)

// Scanner finds a signature in a code section.
type Scanner interface {
	Scan(sig sigscan.Signature) (uintptr, error)
}

// Target is a function the engine needs, identified by its signature.
type Target struct {
	Name      string
	Signature sigscan.Signature
}

// MissingError reports a target that could not be located in this build.
type MissingError struct {
	Name string
	Err  error
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
}

func (e *MissingError) Unwrap() error { return e.Err }

// Addresses are the resolved targets. They are never changed after Resolve.
type Addresses map[string]uintptr

// Lookup returns the address of name and whether it was resolved.
func (a Addresses) Lookup(name string) (uintptr, bool) {
	addr, ok := a[name]
	return addr, ok && addr != 0
}

// Resolver scans for a fixed list of targets.
type Resolver struct {
	Targets []Target
	Log     *slog.Logger
}

// Resolve scans once per target. Every target that is found is returned even
// when others are missing; the error joins one *MissingError per missing
// target so callers can disable just the dependent capability.
func (r *Resolver) Resolve(s Scanner) (Addresses, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	addrs := make(Addresses, len(r.Targets))
	var errs []error
	for _, t := range r.Targets {
		if _, dup := addrs[t.Name]; dup {
			errs = append(errs, &MissingError{Name: t.Name, Err: errors.New("duplicate target name")})
			continue
		}
		addr, err := s.Scan(t.Signature)
		if err != nil {
			log.Warn("signature not found", "target", t.Name, "signature", t.Signature.String(), "error", err)
			errs = append(errs, &MissingError{Name: t.Name, Err: err})
			continue
		}
		log.Info("signature resolved", "target", t.Name, "address", fmt.Sprintf("0x%X", addr))
		addrs[t.Name] = addr
	}
	return addrs, errors.Join(errs...)
}

// Missing lists the names of the targets err reports as missing.
func Missing(err error) []string {
	var names []string
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		var me *MissingError
		if m, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range m.Unwrap() {
				walk(e)
			}
			return
		}
		if errors.As(err, &me) {
			names = append(names, me.Name)
		}
	}
	walk(err)
	return names
}
