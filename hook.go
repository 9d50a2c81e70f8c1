package reshook

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrDoubleHook means the target address already carries a hook
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means no hook is registered for the target address
	ErrHookNotFound = errors.New("hook not found")
	// ErrHookDisposed means the hook was disposed and can no longer be used
	ErrHookDisposed = errors.New("hook disposed")
	// ErrRelativeAddr means the stolen instructions cannot be moved to a trampoline
	ErrRelativeAddr = errors.New("relative address in instruction")
	// ErrShortFunction means the function ends inside the patch window
	ErrShortFunction = errors.New("function too short to patch")
	// ErrUnalignedTarget means the patch window crosses an 8-byte word
	ErrUnalignedTarget = errors.New("patch window not contained in one word")
	// ErrPatchConflict means the patched word was changed by someone else
	ErrPatchConflict = errors.New("patched code changed concurrently")
	// ErrNullAddress means a zero target or detour address was supplied
	ErrNullAddress = errors.New("null address")
)

// State is the lifecycle position of a Hook.
type State int32

const (
	StateCreated State = iota
	StateEnabled
	StateDisabled
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Patcher prepares control-flow redirections of native code.
type Patcher interface {
	// Prepare builds everything needed to redirect target to detour
	// without touching the target yet.
	Prepare(target, detour uintptr) (Patch, error)
}

// Patch is one prepared redirection.
type Patch interface {
	// Original is an entry point that behaves like the unpatched target.
	Original() uintptr
	// Apply redirects the target to the detour.
	Apply() error
	// Revert restores the target's original code.
	Revert() error
	// Release frees the trampoline and relay memory. The patch must be reverted.
	Release() error
}

// Binder converts between Go functions of type F and native entry points.
type Binder[F any] interface {
	Callback(fn F) uintptr
	Func(addr uintptr) F
}

var (
	// hooks applied with target addresses as keys
	hooks map[uintptr]any
	// protect the hooks map
	lock sync.Mutex
)

func init() {
	hooks = make(map[uintptr]any)
}

// Lookup returns the hook registered for target.
func Lookup[F any](target uintptr) (*Hook[F], error) {
	lock.Lock()
	defer lock.Unlock()
	h, ok := hooks[target].(*Hook[F])
	if !ok {
		return nil, ErrHookNotFound
	}
	return h, nil
}

// Hook redirects calls of a native function to a Go replacement.
type Hook[F any] struct {
	target      uintptr
	replacement F
	binder      Binder[F]

	// original is swapped to the restored target on dispose
	original atomic.Pointer[F]
	state    atomic.Int32

	mu    sync.Mutex
	patch Patch
}

// New installs a hook on target. Control flow is not redirected until Enable.
func New[F any](p Patcher, target uintptr, replacement F, b Binder[F]) (*Hook[F], error) {
	if target == 0 {
		return nil, ErrNullAddress
	}
	lock.Lock()
	defer lock.Unlock()
	if _, ok := hooks[target]; ok {
		return nil, fmt.Errorf("target 0x%X: %w", target, ErrDoubleHook)
	}
	detour := b.Callback(replacement)
	if detour == 0 {
		return nil, ErrNullAddress
	}
	patch, err := p.Prepare(target, detour)
	if err != nil {
		return nil, fmt.Errorf("prepare hook at 0x%X: %w", target, err)
	}
	h := &Hook[F]{
		target:      target,
		replacement: replacement,
		binder:      b,
		patch:       patch,
	}
	orig := b.Func(patch.Original())
	h.original.Store(&orig)
	h.state.Store(int32(StateCreated))
	hooks[target] = h
	return h, nil
}

// Target returns the hooked address.
func (h *Hook[F]) Target() uintptr { return h.target }

// State returns the current lifecycle state.
func (h *Hook[F]) State() State { return State(h.state.Load()) }

// Original returns the pre-hook behavior of the target. It stays callable in
// every state; after Dispose it is the restored target itself.
func (h *Hook[F]) Original() F {
	return *h.original.Load()
}

// Enable redirects the target to the replacement.
func (h *Hook[F]) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.State() {
	case StateDisposed:
		return ErrHookDisposed
	case StateEnabled:
		return nil
	}
	if err := h.patch.Apply(); err != nil {
		return fmt.Errorf("enable hook at 0x%X: %w", h.target, err)
	}
	h.state.Store(int32(StateEnabled))
	return nil
}

// Disable restores the target's original control flow.
func (h *Hook[F]) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disable()
}

func (h *Hook[F]) disable() error {
	switch h.State() {
	case StateDisposed:
		return ErrHookDisposed
	case StateEnabled:
	default:
		return nil
	}
	if err := h.patch.Revert(); err != nil {
		return fmt.Errorf("disable hook at 0x%X: %w", h.target, err)
	}
	h.state.Store(int32(StateDisabled))
	return nil
}

// Dispose disables the hook, releases its native memory and unregisters it.
func (h *Hook[F]) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.disable(); err != nil {
		return err
	}
	// stale holders of Original must not call into freed trampoline memory
	restored := h.binder.Func(h.target)
	h.original.Store(&restored)
	h.state.Store(int32(StateDisposed))

	lock.Lock()
	delete(hooks, h.target)
	lock.Unlock()

	if err := h.patch.Release(); err != nil {
		return fmt.Errorf("release hook at 0x%X: %w", h.target, err)
	}
	return nil
}
