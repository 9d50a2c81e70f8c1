// Package engine hooks the host's resource loader and exposes the plain
// Enable/Dispose lifecycle its host-side manager drives.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/k2io/reshook"
	"github.com/k2io/reshook/internal/config"
	"github.com/k2io/reshook/internal/logger"
	"github.com/k2io/reshook/resolve"
	"github.com/k2io/reshook/resource"
)

// ErrDisposed is returned by Enable after Dispose.
var ErrDisposed = errors.New("engine: disposed")

// Options are the collaborators of an Engine.
type Options struct {
	Config  *config.Config
	Scanner resolve.Scanner
	Patcher reshook.Patcher
	Async   reshook.Binder[resource.GetResourceAsyncFunc]
	Sync    reshook.Binder[resource.GetResourceSyncFunc]
	// Log defaults to the package logger.
	Log  *slog.Logger
	Sink resource.Sink
	// Closers run after the hooks are gone on Dispose.
	Closers []func() error
}

// Engine owns the hooks on both loader entries for one session.
type Engine struct {
	session string
	log     *slog.Logger
	policy  *resource.Policy

	async *reshook.Hook[resource.GetResourceAsyncFunc]
	sync  *reshook.Hook[resource.GetResourceSyncFunc]

	disabled map[string]error

	mu       sync.Mutex
	closers  []func() error
	disposed bool
}

// New resolves both entries and installs their hooks without enabling them.
// An entry that cannot be found or hooked is disabled for the session and
// reported by Disabled; New fails only on bad configuration.
func New(opts Options) (*Engine, error) {
	conf := opts.Config
	if conf == nil {
		conf = config.Default()
	}
	if opts.Scanner == nil || opts.Patcher == nil || opts.Async == nil || opts.Sync == nil {
		return nil, errors.New("engine: scanner, patcher and binders are required")
	}
	log := opts.Log
	if log == nil {
		log = logger.L
	}
	e := &Engine{
		session:  uuid.NewString(),
		disabled: make(map[string]error),
		closers:  opts.Closers,
	}
	e.log = log.With("session", e.session)

	targets, err := resource.Targets(conf.Signatures)
	if err != nil {
		return nil, err
	}
	tables, err := conf.Tables()
	if err != nil {
		return nil, err
	}
	e.policy, err = resource.NewPolicy(resource.Options{
		Tables:            tables,
		OverrideRoot:      conf.OverrideRoot(),
		Registry:          resource.NewRegistry(conf.MaxOverrides),
		SubstituteContent: conf.SubstituteContent,
		Log:               e.log,
		Sink:              opts.Sink,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("resource manager starting", "overrideRoot", conf.OverrideRoot())
	addrs, rerr := (&resolve.Resolver{Targets: targets, Log: e.log}).Resolve(opts.Scanner)
	var me *resolve.MissingError
	for _, err := range unwrapAll(rerr) {
		if errors.As(err, &me) {
			e.disable(me.Name, err)
		}
	}

	if addr, ok := addrs.Lookup(resource.AsyncEntry); ok {
		var h *reshook.Hook[resource.GetResourceAsyncFunc]
		detour := e.policy.Async(func(manager, categoryID, resourceType, resourceHash, path, params, isUnknown uintptr) uintptr {
			return h.Original()(manager, categoryID, resourceType, resourceHash, path, params, isUnknown)
		})
		if h, err = reshook.New(opts.Patcher, addr, detour, opts.Async); err != nil {
			e.disable(resource.AsyncEntry, err)
		} else {
			e.async = h
		}
	}
	if addr, ok := addrs.Lookup(resource.SyncEntry); ok {
		var h *reshook.Hook[resource.GetResourceSyncFunc]
		detour := e.policy.Sync(func(manager, categoryID, resourceType, resourceHash, path, params uintptr) uintptr {
			return h.Original()(manager, categoryID, resourceType, resourceHash, path, params)
		})
		if h, err = reshook.New(opts.Patcher, addr, detour, opts.Sync); err != nil {
			e.disable(resource.SyncEntry, err)
		} else {
			e.sync = h
		}
	}
	return e, nil
}

func unwrapAll(err error) []error {
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		return m.Unwrap()
	}
	if err == nil {
		return nil
	}
	return []error{err}
}

func (e *Engine) disable(entry string, err error) {
	e.disabled[entry] = err
	e.log.Warn("capability disabled", "entry", entry, "error", err)
}

// Session identifies this engine in log records.
func (e *Engine) Session() string { return e.session }

// Disabled lists the entries that are not hooked this session and why.
func (e *Engine) Disabled() map[string]error {
	out := make(map[string]error, len(e.disabled))
	for k, v := range e.disabled {
		out[k] = v
	}
	return out
}

// Policy returns the interception policy behind both detours.
func (e *Engine) Policy() *resource.Policy { return e.policy }

// Enable turns on every installed hook. It is idempotent.
func (e *Engine) Enable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	var errs []error
	if e.async != nil {
		errs = append(errs, wrap(resource.AsyncEntry, e.async.Enable()))
	}
	if e.sync != nil {
		errs = append(errs, wrap(resource.SyncEntry, e.sync.Enable()))
	}
	err := errors.Join(errs...)
	e.log.Info("resource manager enabled", "error", err)
	return err
}

// Dispose removes both hooks and unmaps every override file. Later calls
// return nil.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true
	var errs []error
	if e.async != nil {
		errs = append(errs, wrap(resource.AsyncEntry, e.async.Dispose()))
	}
	if e.sync != nil {
		errs = append(errs, wrap(resource.SyncEntry, e.sync.Dispose()))
	}
	errs = append(errs, e.policy.Registry().Close())
	e.log.Info("resource manager disposed")
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func wrap(entry string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", entry, err)
}
