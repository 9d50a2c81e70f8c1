package resource

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrFault marks a panic or memory fault recovered inside a detour.
var ErrFault = errors.New("resource: contained fault")

// Stage is the part of an interception that was running.
type Stage int

const (
	StageRewrite Stage = iota
	StageEnrich
	StageObserve
)

func (s Stage) String() string {
	switch s {
	case StageRewrite:
		return "rewrite"
	case StageEnrich:
		return "enrich"
	case StageObserve:
		return "observe"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Fault is a recovered panic.
type Fault struct {
	Value any
	Stack []byte
}

func (f *Fault) Error() string { return fmt.Sprintf("%v: %v", ErrFault, f.Value) }

func (f *Fault) Unwrap() error { return ErrFault }

// Outcome is the result of one interception as seen by the engine.
type Outcome struct {
	Entry   string
	Request uint64
	Path    string
	// Rewritten is the path forwarded to the host when it differs from Path.
	Rewritten string
	Result    uintptr
	// Stage is where Err happened; meaningless when Err is nil.
	Stage Stage
	Err   error
}

// Contained reports whether part of the interception was abandoned.
func (o Outcome) Contained() bool { return o.Err != nil }

// Sink receives every Outcome. Observe must not block for long; it runs on
// the host's thread.
type Sink interface {
	Observe(Outcome)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Outcome)

func (f SinkFunc) Observe(o Outcome) { f(o) }

// contain runs fn and turns panics, including memory faults on foreign
// records, into a *Fault.
func contain(fn func() error) (err error) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		if r := recover(); r != nil {
			err = &Fault{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
