package resource

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/reshook/internal/logger"
)

// host stands in for the native loader entries.
type host struct {
	mu     sync.Mutex
	paths  []string
	ptrs   []uintptr
	result uintptr
}

func (h *host) seen(path uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ptrs = append(h.ptrs, path)
	s := "<unreadable>"
	if path > 0x10000 {
		s, _ = readCString(path)
	}
	h.paths = append(h.paths, s)
}

func (h *host) async(manager, categoryID, resourceType, resourceHash, path, params, isUnknown uintptr) uintptr {
	h.seen(path)
	return h.result
}

func (h *host) sync(manager, categoryID, resourceType, resourceHash, path, params uintptr) uintptr {
	h.seen(path)
	return h.result
}

type outcomes struct {
	mu  sync.Mutex
	all []Outcome
}

func (o *outcomes) Observe(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, out)
}

func (o *outcomes) last(t *testing.T) Outcome {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.all)
	return o.all[len(o.all)-1]
}

func newTestPolicy(t *testing.T, root string, substitute bool) (*Policy, *outcomes) {
	t.Helper()
	sink := &outcomes{}
	p, err := NewPolicy(Options{
		Tables:            DefaultTables(),
		OverrideRoot:      root,
		SubstituteContent: substitute,
		Log:               quietLog(),
		Sink:              sink,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Registry().Close() })
	return p, sink
}

func TestAsyncRewritesRequest(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), false)
	h := &host{}
	detour := p.Async(h.async)

	for from, to := range map[string]string{
		"music/ex2/BGM_EX2_System_Title.scd": "music/ex3/BGM_EX3_Ban_03.scd",
		"ui/uld/Title_Logo400.uld":           "ui/uld/Title_Logo300.uld",
	} {
		b, ptr := cString(from)
		detour(1, 2, 3, 4, ptr, 6, 0)
		assert.Equal(t, to, h.paths[len(h.paths)-1])
		assert.NotEqual(t, ptr, h.ptrs[len(h.ptrs)-1], "host gets a new string")
		assert.Equal(t, from, string(b[:len(from)]), "caller's string untouched")

		o := sink.last(t)
		assert.Equal(t, from, o.Path)
		assert.Equal(t, to, o.Rewritten)
		assert.False(t, o.Contained())
	}

	b, ptr := cString("chara/equipment/e0001/texture/v01_c0101e0001_top_n.tex")
	detour(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)
	assert.Equal(t, ptr, h.ptrs[len(h.ptrs)-1], "other paths pass through")
	assert.Empty(t, sink.last(t).Rewritten)
}

func TestAsyncNullResultShortCircuits(t *testing.T) {
	root := t.TempDir()
	writeOverride(t, root, "ui/uld/Title_Logo400.uld")
	p, sink := newTestPolicy(t, root, true)
	h := &host{result: 0}

	b, ptr := cString("ui/uld/Title_Logo400.uld")
	got := p.Async(h.async)(1, 2, 3, 4, ptr, 6, 1)
	runtime.KeepAlive(b)
	assert.Zero(t, got)
	assert.Equal(t, 0, p.Registry().Len())
	assert.False(t, sink.last(t).Contained())
}

func TestAsyncRedirectsRecordPath(t *testing.T) {
	p, _ := newTestPolicy(t, t.TempDir(), false)
	rec := newRecord(t, "music/ex3/BGM_EX3_Ban_03.scd", 48)
	h := &host{result: rec.addr()}

	b, ptr := cString("music/ex2/BGM_EX2_System_Title.scd")
	got := p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)
	assert.Equal(t, rec.addr(), got)

	handle, err := NewHandle(rec.addr(), nil)
	require.NoError(t, err)
	name, err := handle.FileName()
	require.NoError(t, err)
	assert.Equal(t, "music/ex2/BGM_EX2_Town_K_Day.scd", name)
	runtime.KeepAlive(rec)
}

func TestAsyncRedirectBoundedByCapacity(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), false)
	rec := newRecord(t, "music/ex3/BGM.scd", 24)
	h := &host{result: rec.addr()}

	b, ptr := cString("music/ex2/BGM_EX2_System_Title.scd")
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	assert.Equal(t, "music/ex2/BGM_EX2_Town_K", string(rec.heap[:24]))
	assert.Equal(t, byte(0), rec.heap[24])
	assert.Equal(t, byte(guardByte), rec.heap[25])
	assert.False(t, sink.last(t).Contained(), "truncation is reported, not a fault")
	runtime.KeepAlive(rec)
}

func writeOverride(t *testing.T, root, logical string) string {
	t.Helper()
	file := filepath.Join(root, filepath.FromSlash(logical))
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte("override:"+logical), 0o644))
	return file
}

func TestAsyncAttachesOverride(t *testing.T) {
	const logical = "chara/human/c0101/obj/body/b0001/texture/c0101b0001_d.tex"
	root := t.TempDir()
	file := writeOverride(t, root, logical)
	p, _ := newTestPolicy(t, root, false)
	rec := newRecord(t, logical, 64)
	h := &host{result: rec.addr()}

	b, ptr := cString(logical)
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	ov, ok := p.Registry().Get(rec.addr())
	require.True(t, ok)
	assert.Equal(t, file, ov.File)
	assert.Equal(t, logical, ov.Path)
	assert.Equal(t, []byte("override:"+logical), mapped(ov))
	assert.Zero(t, rec.data(), "content pointer untouched without substitution")
	runtime.KeepAlive(rec)
}

func TestAsyncSubstitutesContent(t *testing.T) {
	const logical = "ui/icon/000000/000001.tex"
	root := t.TempDir()
	writeOverride(t, root, logical)
	p, _ := newTestPolicy(t, root, true)
	rec := newRecord(t, logical, 32)
	h := &host{result: rec.addr()}

	b, ptr := cString(logical)
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	ov, ok := p.Registry().Get(rec.addr())
	require.True(t, ok)
	assert.Equal(t, ov.Addr, rec.data())
	runtime.KeepAlive(rec)
}

func TestAsyncWithoutOverrideLeavesRecord(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), true)
	rec := newRecord(t, "bg/ffxiv/fst_f1/twn/f1t1/level/bg.lgb", 48)
	before := append([]byte{}, rec.mem...)
	h := &host{result: rec.addr()}

	b, ptr := cString("bg/ffxiv/fst_f1/twn/f1t1/level/bg.lgb")
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	assert.Equal(t, before, rec.mem)
	assert.Equal(t, 0, p.Registry().Len())
	assert.False(t, sink.last(t).Contained())
	runtime.KeepAlive(rec)
}

func TestAsyncSkipsInvalidPaths(t *testing.T) {
	const logical = "ui/<generated>|icon.tex"
	sink := &outcomes{}
	p, err := NewPolicy(Options{
		Tables:       NewTables(nil, map[string]string{logical: "ui/icon.tex"}),
		OverrideRoot: t.TempDir(),
		Log:          quietLog(),
		Sink:         sink,
	})
	require.NoError(t, err)
	rec := newRecord(t, logical, 32)
	before := append([]byte{}, rec.mem...)
	h := &host{result: rec.addr()}

	b, ptr := cString(logical)
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	assert.Equal(t, before, rec.mem, "no enrichment for invalid paths")
	assert.False(t, sink.last(t).Contained())
	runtime.KeepAlive(rec)
}

func TestAsyncContainsEnrichmentFault(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), false)
	// a bogus record in the unmapped first page
	h := &host{result: 0x8}

	b, ptr := cString("music/ex2/BGM_EX2_System_Title.scd")
	got := p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	assert.Equal(t, uintptr(0x8), got, "host result survives the fault")
	o := sink.last(t)
	require.True(t, o.Contained())
	assert.Equal(t, StageEnrich, o.Stage)
	assert.ErrorIs(t, o.Err, ErrFault)
	var f *Fault
	require.ErrorAs(t, o.Err, &f)
	assert.NotEmpty(t, f.Stack)
}

func TestAsyncContainsCorruptRecord(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), false)
	rec := newRecord(t, "music/ex3/BGM_EX3_Ban_03.scd", 32)
	rec.mem[0x48+stdStringLenOff] = 0xFF
	h := &host{result: rec.addr()}

	b, ptr := cString("music/ex2/BGM_EX2_System_Title.scd")
	got := p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)

	assert.Equal(t, rec.addr(), got)
	o := sink.last(t)
	assert.Equal(t, StageEnrich, o.Stage)
	assert.Error(t, o.Err)
	runtime.KeepAlive(rec)
}

func TestAsyncContainsRewriteFault(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), false)
	rec := newRecord(t, "x", 15)
	h := &host{result: rec.addr()}

	// unreadable path argument: the host still gets the call, unmodified
	got := p.Async(h.async)(1, 2, 3, 4, 0x10, 6, 0)
	assert.Equal(t, rec.addr(), got)
	assert.Equal(t, []uintptr{0x10}, h.ptrs)

	o := sink.last(t)
	assert.Equal(t, StageRewrite, o.Stage)
	assert.ErrorIs(t, o.Err, ErrFault)
	runtime.KeepAlive(rec)
}

func TestSinkPanicIsSwallowed(t *testing.T) {
	p, err := NewPolicy(Options{
		Log:  quietLog(),
		Sink: SinkFunc(func(Outcome) { panic("observer broke") }),
	})
	require.NoError(t, err)
	h := &host{result: 0}
	b, ptr := cString("a/b.tex")
	assert.NotPanics(t, func() { p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0) })
	runtime.KeepAlive(b)
}

func TestSyncObservesOnly(t *testing.T) {
	root := t.TempDir()
	writeOverride(t, root, "music/ex2/BGM_EX2_System_Title.scd")
	p, sink := newTestPolicy(t, root, true)
	rec := newRecord(t, "music/ex2/BGM_EX2_System_Title.scd", 48)
	before := append([]byte{}, rec.mem...)
	h := &host{result: rec.addr()}

	b, ptr := cString("music/ex2/BGM_EX2_System_Title.scd")
	got := p.Sync(h.sync)(1, 2, 3, 4, ptr, 6)
	runtime.KeepAlive(b)

	assert.Equal(t, rec.addr(), got)
	assert.Equal(t, []uintptr{ptr}, h.ptrs, "no rewrite on the sync entry")
	assert.Equal(t, before, rec.mem, "no enrichment on the sync entry")
	assert.Equal(t, 0, p.Registry().Len())
	o := sink.last(t)
	assert.Equal(t, SyncEntry, o.Entry)
	assert.Equal(t, "music/ex2/BGM_EX2_System_Title.scd", o.Path)
	runtime.KeepAlive(rec)
}

func TestConcurrentRequests(t *testing.T) {
	p, sink := newTestPolicy(t, t.TempDir(), false)
	h := &host{}
	detour := p.Async(h.async)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b, ptr := cString("ui/uld/Title_Logo400.uld")
				detour(1, 2, 3, 4, ptr, 6, 0)
				runtime.KeepAlive(b)
			}
		}()
	}
	wg.Wait()

	for _, path := range h.paths {
		assert.Equal(t, "ui/uld/Title_Logo300.uld", path)
	}
	ids := make(map[uint64]bool)
	for _, o := range sink.all {
		ids[o.Request] = true
	}
	assert.Len(t, ids, 400, "request ids are unique")
}

func TestNewPolicyRequiresFields(t *testing.T) {
	l := MustLayout(0x10, Field{Name: FieldHState, Offset: 0, Width: 1, Encoding: Uint8})
	_, err := NewPolicy(Options{Layout: l})
	assert.ErrorIs(t, err, ErrLayout)
}

func TestConcurrentOverridesWithEviction(t *testing.T) {
	const logical = "music/ex2/BGM_EX2_Town_K_Day.scd"
	root := t.TempDir()
	writeOverride(t, root, logical)
	sink := &outcomes{}
	p, err := NewPolicy(Options{
		Tables:            DefaultTables(),
		OverrideRoot:      root,
		Registry:          NewRegistry(1),
		SubstituteContent: true,
		Log:               quietLog(),
		Sink:              sink,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Registry().Close() })

	const workers, calls = 8, 200
	recs := make([]*record, workers)
	for i := range recs {
		recs[i] = newRecord(t, logical, 48)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(rec *record) {
			defer wg.Done()
			h := &host{result: rec.addr()}
			detour := p.Async(h.async)
			for j := 0; j < calls; j++ {
				b, ptr := cString(logical)
				detour(1, 2, 3, 4, ptr, 6, 0)
				runtime.KeepAlive(b)
			}
		}(recs[i])
	}
	wg.Wait()

	assert.Equal(t, 1, p.Registry().Len())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.all, workers*calls)
	for _, o := range sink.all {
		require.NoError(t, o.Err)
	}
	for _, rec := range recs {
		if ov, ok := p.Registry().Get(rec.addr()); ok {
			assert.Equal(t, ov.Addr, rec.data(), "live mapping is the one substituted")
			assert.Equal(t, []byte("override:"+logical), mapped(ov))
		}
	}
	runtime.KeepAlive(recs)
}

func TestVerboseDumpsRecord(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPolicy(Options{
		Tables:       DefaultTables(),
		OverrideRoot: t.TempDir(),
		Log:          logger.New(&buf, logger.LevelVerbose),
	})
	require.NoError(t, err)
	rec := newRecord(t, "ui/icon/000000/000001.tex", 32)
	h := &host{result: rec.addr()}

	b, ptr := cString("ui/icon/000000/000001.tex")
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)
	runtime.KeepAlive(rec)

	assert.Contains(t, buf.String(), `"msg":"record"`)
	assert.Contains(t, buf.String(), `"fileName":"ui/icon/000000/000001.tex"`)

	buf.Reset()
	p, err = NewPolicy(Options{
		OverrideRoot: t.TempDir(),
		Log:          logger.New(&buf, slog.LevelDebug),
	})
	require.NoError(t, err)
	p.Async(h.async)(1, 2, 3, 4, ptr, 6, 0)
	runtime.KeepAlive(b)
	runtime.KeepAlive(rec)
	assert.NotContains(t, buf.String(), `"msg":"record"`)
}
