package resource

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/k2io/reshook/internal/mmfile"
)

// DefaultMaxOverrides bounds the mapped override files kept alive at once.
const DefaultMaxOverrides = 256

// Override describes an override file mapped for one resource handle. It is
// a snapshot taken under the registry lock; Addr stays valid only while the
// mapping is held.
type Override struct {
	Record uintptr
	Path   string
	File   string
	// Addr is the address of the mapped content, zero for an empty file.
	Addr uintptr
	Size int
}

type mapping struct {
	Override
	data  []byte
	unmap func() error
}

func (m *mapping) close() error {
	if m.unmap == nil {
		return nil
	}
	err := m.unmap()
	m.unmap, m.data = nil, nil
	return err
}

// Registry keeps override mappings alive per record address. The host gives
// no notice when it frees a record, so the least recently attached mapping is
// unmapped once more than max are held.
type Registry struct {
	mu       sync.Mutex
	max      int
	order    *list.List // front is the most recent
	byRecord map[uintptr]*list.Element
	mapFile  func(string) ([]byte, func() error, error)
}

// NewRegistry returns a registry holding at most max mappings.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxOverrides
	}
	return &Registry{
		max:      max,
		order:    list.New(),
		byRecord: make(map[uintptr]*list.Element),
		mapFile:  mmfile.Map,
	}
}

// Attach maps file and associates it with record, replacing an earlier
// mapping of the same record. bind, when not nil, runs with the registry
// locked, so no other Attach or Release can unmap the new mapping while bind
// hands its address to the host. An error from bind is returned but leaves
// the mapping attached.
func (r *Registry) Attach(record uintptr, logical, file string, bind func(Override) error) (Override, error) {
	if record == 0 {
		return Override{}, ErrNullRecord
	}
	data, unmap, err := r.mapFile(file)
	if err != nil {
		return Override{}, fmt.Errorf("map override %s: %w", file, err)
	}
	m := &mapping{
		Override: Override{Record: record, Path: logical, File: file, Size: len(data)},
		data:     data,
		unmap:    unmap,
	}
	if len(data) > 0 {
		m.Addr = uintptr(unsafe.Pointer(&data[0]))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if e, ok := r.byRecord[record]; ok {
		errs = append(errs, r.remove(e))
	}
	r.byRecord[record] = r.order.PushFront(m)
	for r.order.Len() > r.max {
		errs = append(errs, r.remove(r.order.Back()))
	}
	if bind != nil {
		if err := bind(m.Override); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", errBind, err))
		}
	}
	return m.Override, errors.Join(errs...)
}

var errBind = errors.New("bind override")

func (r *Registry) remove(e *list.Element) error {
	m := r.order.Remove(e).(*mapping)
	delete(r.byRecord, m.Record)
	return m.close()
}

// Get returns the mapping attached to record.
func (r *Registry) Get(record uintptr) (Override, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byRecord[record]
	if !ok {
		return Override{}, false
	}
	return e.Value.(*mapping).Override, true
}

// Release unmaps the override of a record the host has freed.
func (r *Registry) Release(record uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byRecord[record]
	if !ok {
		return nil
	}
	return r.remove(e)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Close unmaps everything.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for r.order.Len() > 0 {
		errs = append(errs, r.remove(r.order.Back()))
	}
	return errors.Join(errs...)
}
