package resource

import (
	"fmt"

	"github.com/k2io/reshook/resolve"
	"github.com/k2io/reshook/sigscan"
)

// Entry names of the resource loader.
const (
	AsyncEntry = "GetResourceAsync"
	SyncEntry  = "GetResourceSync"
)

// GetResourceAsyncFunc is the asynchronous loader entry. path is a
// NUL-terminated ANSI string; isUnknown carries a single byte.
type GetResourceAsyncFunc func(manager, categoryID, resourceType, resourceHash, path, params, isUnknown uintptr) uintptr

// GetResourceSyncFunc is the synchronous loader entry.
type GetResourceSyncFunc func(manager, categoryID, resourceType, resourceHash, path, params uintptr) uintptr

// DefaultSignatures locate both entries in the 64-bit client.
func DefaultSignatures() map[string]string {
	return map[string]string{
		AsyncEntry: "48 89 5C 24 08 48 89 6C 24 10 48 89 74 24 18 57 41 54 41 55 41 56 41 57 48 83 EC 30 4D 8B F9 4D 8B E0 4C 8B EA 48 8B F9 E8 63 52 FE FF 45 33 F6",
		SyncEntry:  "48 89 5C 24 08 48 89 6C 24 10 48 89 74 24 18 57 41 54 41 55 41 56 41 57 48 83 EC 30 48 8B F9 49 8B E9 48 83 C1 30 4D 8B F0 4C 8B EA FF 15 4E 99",
	}
}

// Targets returns the resolver targets of both entries. sigs overrides the
// default signature per entry name.
func Targets(sigs map[string]string) ([]resolve.Target, error) {
	defaults := DefaultSignatures()
	var targets []resolve.Target
	for _, name := range []string{AsyncEntry, SyncEntry} {
		text, ok := sigs[name]
		if !ok || text == "" {
			text = defaults[name]
		}
		sig, err := sigscan.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("signature of %s: %w", name, err)
		}
		targets = append(targets, resolve.Target{Name: name, Signature: sig})
	}
	for name := range sigs {
		if name != AsyncEntry && name != SyncEntry {
			return nil, fmt.Errorf("signature for unknown entry %q", name)
		}
	}
	return targets, nil
}
