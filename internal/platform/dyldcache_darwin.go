//go:build darwin

package platform

import (
	"context"
	"fmt"
)

// darwinDyldCacheRuntime would obtain the runtime-reported shared-cache
// UUID via _dyld_get_shared_cache_uuid and the mapped-range UUID via
// _dyld_shared_cache_range. Unlike taskport_darwin.go's Read/Regions/
// DyldAllImageInfosAddr — all Mach traps or MIG RPCs marshaled by hand in
// machmsg_darwin.go — these two are libdyld-exported C functions with no
// Mach message or BSD syscall underneath them at all, so there is no
// cgo-free path to them; only a cgo shim (or dynamic C-symbol resolution)
// reaches them. Left unimplemented for that reason; internal/contradiction's
// dyld-cache probe is fully buildable and unit-testable against a fake
// DyldCacheRuntime today.
type darwinDyldCacheRuntime struct{}

// NewDyldCacheRuntime returns the darwin DyldCacheRuntime adapter.
func NewDyldCacheRuntime() DyldCacheRuntime { return darwinDyldCacheRuntime{} }

func (darwinDyldCacheRuntime) RuntimeReportedUUID(ctx context.Context) ([16]byte, error) {
	return [16]byte{}, fmt.Errorf("platform: _dyld_get_shared_cache_uuid requires the libdyld cgo shim: %w", ErrUnsupported)
}

func (darwinDyldCacheRuntime) MappedCacheUUID(ctx context.Context) ([16]byte, error) {
	return [16]byte{}, fmt.Errorf("platform: _dyld_shared_cache_range requires the libdyld cgo shim: %w", ErrUnsupported)
}
