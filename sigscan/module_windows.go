//go:build windows

package sigscan

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/k2io/reshook/internal/objsections"
)

// NewModuleScanner scans the executable section of the main module of the
// running process in memory.
func NewModuleScanner() (*Scanner, error) {
	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		return nil, fmt.Errorf("GetModuleHandleEx: %w", err)
	}
	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), module, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return nil, fmt.Errorf("GetModuleInformation: %w", err)
	}
	image := unsafe.Slice((*byte)(unsafe.Pointer(mi.BaseOfDll)), mi.SizeOfImage)
	sec, err := objsections.ImageText(image)
	if err != nil {
		return nil, err
	}
	return New(mi.BaseOfDll+uintptr(sec.Offset), sec.Data), nil
}
