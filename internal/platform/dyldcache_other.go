//go:build !darwin

package platform

import "context"

type stubDyldCacheRuntime struct{}

// NewDyldCacheRuntime returns the platform's DyldCacheRuntime adapter.
func NewDyldCacheRuntime() DyldCacheRuntime { return stubDyldCacheRuntime{} }

func (stubDyldCacheRuntime) RuntimeReportedUUID(ctx context.Context) ([16]byte, error) {
	return [16]byte{}, ErrUnsupported
}

func (stubDyldCacheRuntime) MappedCacheUUID(ctx context.Context) ([16]byte, error) {
	return [16]byte{}, ErrUnsupported
}
