// Package resource intercepts the host's resource loader: it rewrites
// requested paths before the call, and after it redirects the returned
// record's path and attaches override files found under an override root.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/k2io/reshook/internal/logger"
)

// Options configures a Policy.
type Options struct {
	Tables Tables
	// OverrideRoot is the directory searched for override files.
	OverrideRoot string
	// Registry keeps override mappings. Nil uses a registry of DefaultMaxOverrides.
	Registry *Registry
	// SubstituteContent writes the mapped override address into the
	// record's content pointer.
	SubstituteContent bool
	// Layout of the resource handle. Nil uses HandleLayout.
	Layout *Layout
	Log    *slog.Logger
	Sink   Sink
}

// Policy builds the detours of both loader entries. It is safe for
// concurrent use by any number of host threads.
type Policy struct {
	tables     Tables
	root       string
	registry   *Registry
	substitute bool
	layout     *Layout
	log        *slog.Logger
	sink       Sink

	requests atomic.Uint64
}

// NewPolicy validates opts and returns a policy.
func NewPolicy(opts Options) (*Policy, error) {
	p := &Policy{
		tables:     opts.Tables,
		root:       opts.OverrideRoot,
		registry:   opts.Registry,
		substitute: opts.SubstituteContent,
		layout:     opts.Layout,
		log:        opts.Log,
		sink:       opts.Sink,
	}
	if p.layout == nil {
		p.layout = HandleLayout
	}
	for _, name := range []string{FieldFileName, FieldData} {
		if _, ok := p.layout.Field(name); !ok {
			return nil, fmt.Errorf("%w: missing field %s", ErrLayout, name)
		}
	}
	if p.registry == nil {
		p.registry = NewRegistry(DefaultMaxOverrides)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p, nil
}

// Registry returns the override registry.
func (p *Policy) Registry() *Registry { return p.registry }

// Async returns the detour of the asynchronous entry; orig calls through to
// the host.
func (p *Policy) Async(orig GetResourceAsyncFunc) GetResourceAsyncFunc {
	return func(manager, categoryID, resourceType, resourceHash, path, params, isUnknown uintptr) uintptr {
		o := Outcome{Entry: AsyncEntry, Request: p.requests.Add(1)}
		log := p.log.With("entry", AsyncEntry, "request", o.Request)

		callPath := path
		var pinned *pinnedString
		read := false
		if err := contain(func() error {
			var err error
			if o.Path, err = readCString(path); err != nil {
				return err
			}
			read = true
			log.Debug("dispatch", "path", o.Path, "isUnknown", isUnknown&0xFF)
			to, ok := p.tables.Rewrite(o.Path)
			if !ok {
				return nil
			}
			if pinned, err = newPinnedString(to); err != nil {
				return err
			}
			callPath = pinned.addr()
			o.Rewritten = to
			log.Info("rewrite", "from", o.Path, "to", to)
			return nil
		}); err != nil {
			o.Stage, o.Err = StageRewrite, err
			callPath, o.Rewritten = path, ""
		}

		o.Result = orig(manager, categoryID, resourceType, resourceHash, callPath, params, isUnknown)
		if pinned != nil {
			pinned.release()
		}
		log.Debug("call", "path", o.Path, "result", hex(o.Result))

		if o.Err == nil && read && o.Result != 0 {
			if err := contain(func() error { return p.enrich(log, o.Path, o.Result) }); err != nil {
				o.Stage, o.Err = StageEnrich, err
			}
		}
		p.report(log, o)
		return o.Result
	}
}

// Sync returns the detour of the synchronous entry. It only observes: the
// request reaches the host unchanged and the record is left alone.
func (p *Policy) Sync(orig GetResourceSyncFunc) GetResourceSyncFunc {
	return func(manager, categoryID, resourceType, resourceHash, path, params uintptr) uintptr {
		o := Outcome{Entry: SyncEntry, Request: p.requests.Add(1)}
		log := p.log.With("entry", SyncEntry, "request", o.Request)

		o.Result = orig(manager, categoryID, resourceType, resourceHash, path, params)
		if err := contain(func() error {
			var err error
			o.Path, err = readCString(path)
			log.Debug("call", "path", o.Path, "result", hex(o.Result))
			return err
		}); err != nil {
			o.Stage, o.Err = StageObserve, err
		}
		p.report(log, o)
		return o.Result
	}
}

// enrich applies the redirect table and attaches an override file to the
// record returned for the logical path requested.
func (p *Policy) enrich(log *slog.Logger, requested string, record uintptr) error {
	if HasInvalidChars(requested) {
		log.Debug("skip enrichment", "reason", "invalid path characters")
		return nil
	}
	h, err := NewHandle(record, p.layout)
	if err != nil {
		return err
	}
	if log.Enabled(context.Background(), logger.LevelVerbose) {
		p.dump(log, h)
	}

	if to, ok := p.tables.Redirect(requested); ok {
		n, err := h.SetFileName(to)
		switch {
		case errors.Is(err, ErrCapacityOverflow):
			log.Warn("redirect truncated", "from", requested, "to", to, "written", n, "error", err)
		case err != nil:
			return fmt.Errorf("redirect %s: %w", requested, err)
		default:
			log.Info("redirect", "from", requested, "to", to)
		}
	}

	file, ok := OverridePath(p.root, requested)
	if !ok {
		log.Debug("skip override", "path", requested, "reason", "not a local path")
		return nil
	}
	log.Debug("trying override", "file", file)
	st, err := os.Stat(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return nil
	}
	var bind func(Override) error
	if p.substitute {
		bind = func(ov Override) error {
			if ov.Addr == 0 {
				return nil
			}
			return h.SetData(ov.Addr)
		}
	}
	ov, err := p.registry.Attach(record, requested, file, bind)
	switch {
	case ov.Record == 0, errors.Is(err, errBind):
		return err
	case err != nil:
		log.Warn("evicted override failed to unmap", "error", err)
	}
	log.Info("override attached", "file", file, "size", ov.Size, "record", hex(record))
	if bind != nil && ov.Addr != 0 {
		log.Debug("content substituted", "record", hex(record), "data", hex(ov.Addr))
	}
	return nil
}

func (p *Policy) dump(log *slog.Logger, h Handle) {
	name, err := h.FileName()
	if err != nil {
		log.Log(context.Background(), logger.LevelVerbose, "record", "record", hex(h.Base()), "error", err)
		return
	}
	hs, _ := h.HState()
	rs, _ := h.RState()
	data, _ := h.Data()
	log.Log(context.Background(), logger.LevelVerbose, "record", "record", hex(h.Base()), "fileName", name, "hState", hs, "rState", rs, "data", hex(data))
}

func (p *Policy) report(log *slog.Logger, o Outcome) {
	if o.Err != nil {
		log.Error("interception contained", "stage", o.Stage.String(), "path", o.Path, "error", o.Err)
	}
	if p.sink == nil {
		return
	}
	defer func() { recover() }()
	p.sink.Observe(o)
}

func hex(v uintptr) string { return fmt.Sprintf("0x%X", v) }
