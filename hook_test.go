package reshook

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scaleFunc func(x int) int

// machine simulates native code: functions live at addresses and applied
// patches send calls of a target to its detour.
type machine struct {
	mu    sync.Mutex
	code  map[uintptr]scaleFunc
	jumps map[uintptr]uintptr
	next  uintptr
}

// machineBase keeps addresses of different machines apart in the global registry
var machineBase atomic.Uintptr

func newMachine() *machine {
	return &machine{
		code:  make(map[uintptr]scaleFunc),
		jumps: make(map[uintptr]uintptr),
		next:  machineBase.Add(0x1000000),
	}
}

func (m *machine) place(fn scaleFunc) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next += 0x100
	m.code[m.next] = fn
	return m.next
}

func (m *machine) call(addr uintptr, x int) int {
	m.mu.Lock()
	if to, ok := m.jumps[addr]; ok {
		addr = to
	}
	fn := m.code[addr]
	m.mu.Unlock()
	return fn(x)
}

func (m *machine) Callback(fn scaleFunc) uintptr { return m.place(fn) }

func (m *machine) Func(addr uintptr) scaleFunc {
	return func(x int) int { return m.call(addr, x) }
}

func (m *machine) Prepare(target, detour uintptr) (Patch, error) {
	m.mu.Lock()
	orig, ok := m.code[target]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("no code at target")
	}
	return &machinePatch{m: m, target: target, detour: detour, tramp: m.place(orig)}, nil
}

type machinePatch struct {
	m                     *machine
	target, detour, tramp uintptr
	applied, released     int
}

func (p *machinePatch) Original() uintptr { return p.tramp }

func (p *machinePatch) Apply() error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.applied++
	p.m.jumps[p.target] = p.detour
	return nil
}

func (p *machinePatch) Revert() error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.applied--
	delete(p.m.jumps, p.target)
	return nil
}

func (p *machinePatch) Release() error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.released++
	delete(p.m.code, p.tramp)
	return nil
}

func double(x int) int { return 2 * x }

func TestHookLifecycle(t *testing.T) {
	m := newMachine()
	target := m.place(double)

	var h *Hook[scaleFunc]
	replacement := func(x int) int { return h.Original()(x) + 1 }
	h, err := New[scaleFunc](m, target, replacement, m)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, h.State())
	assert.Equal(t, 10, m.call(target, 5), "install does not redirect")

	require.NoError(t, h.Enable())
	require.NoError(t, h.Enable(), "enable is idempotent")
	assert.Equal(t, StateEnabled, h.State())
	assert.Equal(t, 11, m.call(target, 5))
	assert.Equal(t, 10, h.Original()(5))

	require.NoError(t, h.Disable())
	require.NoError(t, h.Disable(), "disable is idempotent")
	assert.Equal(t, StateDisabled, h.State())
	assert.Equal(t, 10, m.call(target, 5))
	assert.Equal(t, 10, h.Original()(5))

	require.NoError(t, h.Enable())
	require.NoError(t, h.Dispose())
	assert.Equal(t, StateDisposed, h.State())
	assert.Equal(t, 10, m.call(target, 5), "dispose restores the call path")
	assert.Equal(t, 10, h.Original()(5), "original stays callable after dispose")

	assert.ErrorIs(t, h.Enable(), ErrHookDisposed)
	assert.ErrorIs(t, h.Disable(), ErrHookDisposed)
	assert.ErrorIs(t, h.Dispose(), ErrHookDisposed)
}

func TestHookDoubleHook(t *testing.T) {
	m := newMachine()
	target := m.place(double)

	h, err := New[scaleFunc](m, target, double, m)
	require.NoError(t, err)

	_, err = New[scaleFunc](m, target, double, m)
	assert.ErrorIs(t, err, ErrDoubleHook)

	found, err := Lookup[scaleFunc](target)
	require.NoError(t, err)
	assert.Same(t, h, found)

	require.NoError(t, h.Dispose())
	_, err = Lookup[scaleFunc](target)
	assert.ErrorIs(t, err, ErrHookNotFound)

	h2, err := New[scaleFunc](m, target, double, m)
	require.NoError(t, err, "a disposed target can be hooked again")
	require.NoError(t, h2.Dispose())
}

func TestHookNullTarget(t *testing.T) {
	m := newMachine()
	_, err := New[scaleFunc](m, 0, double, m)
	assert.ErrorIs(t, err, ErrNullAddress)
}

func TestHookPrepareFailureLeavesNoRegistration(t *testing.T) {
	m := newMachine()
	const target = uintptr(0xDEAD0000)

	_, err := New[scaleFunc](m, target, double, m)
	require.Error(t, err)
	_, err = Lookup[scaleFunc](target)
	assert.ErrorIs(t, err, ErrHookNotFound)
}

func TestHookConcurrentCalls(t *testing.T) {
	m := newMachine()
	target := m.place(double)

	var h *Hook[scaleFunc]
	h, err := New[scaleFunc](m, target, func(x int) int { return h.Original()(x) }, m)
	require.NoError(t, err)
	defer h.Dispose()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := m.call(target, j); got != 2*j {
					t.Errorf("call(%d) = %d", j, got)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, h.Enable())
		require.NoError(t, h.Disable())
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "enabled", StateEnabled.String())
	assert.Equal(t, "state(9)", State(9).String())
}
