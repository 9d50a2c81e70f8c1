//go:build windows

package resource

import "syscall"

// AsyncBinder converts GetResourceAsyncFunc to and from native entry points.
type AsyncBinder struct{}

func (AsyncBinder) Callback(fn GetResourceAsyncFunc) uintptr {
	return syscall.NewCallback(func(manager, categoryID, resourceType, resourceHash, path, params, isUnknown uintptr) uintptr {
		return fn(manager, categoryID, resourceType, resourceHash, path, params, isUnknown)
	})
}

func (AsyncBinder) Func(addr uintptr) GetResourceAsyncFunc {
	return func(manager, categoryID, resourceType, resourceHash, path, params, isUnknown uintptr) uintptr {
		r, _, _ := syscall.SyscallN(addr, manager, categoryID, resourceType, resourceHash, path, params, isUnknown)
		return r
	}
}

// SyncBinder converts GetResourceSyncFunc to and from native entry points.
type SyncBinder struct{}

func (SyncBinder) Callback(fn GetResourceSyncFunc) uintptr {
	return syscall.NewCallback(func(manager, categoryID, resourceType, resourceHash, path, params uintptr) uintptr {
		return fn(manager, categoryID, resourceType, resourceHash, path, params)
	})
}

func (SyncBinder) Func(addr uintptr) GetResourceSyncFunc {
	return func(manager, categoryID, resourceType, resourceHash, path, params uintptr) uintptr {
		r, _, _ := syscall.SyscallN(addr, manager, categoryID, resourceType, resourceHash, path, params)
		return r
	}
}
