//go:build darwin

package platform

import "context"

// Disk arbitration, the service manager's XPC protocol, CGEventTap
// enumeration, and the kext-manager query are framework-mediated APIs with
// no raw-syscall surface (unlike the BSD/Mach calls used elsewhere in this
// package); a production build links them through cgo shims against
// DiskArbitration.framework, launchd's bootstrap/XPC protocol,
// CoreGraphics's event-tap introspection, and IOKit's kext APIs
// respectively. These adapters return ErrUnsupported until that cgo layer
// is linked in, so every consuming probe can still be built and
// unit-tested against a fake implementation of the same interface.

type unimplementedDiskArbitration struct{}

func NewDiskArbitration() DiskArbitration { return unimplementedDiskArbitration{} }

func (unimplementedDiskArbitration) List(ctx context.Context) ([]PartitionEntry, error) {
	return nil, ErrUnsupported
}

type unimplementedServiceManager struct{}

func NewServiceManager() ServiceManager { return unimplementedServiceManager{} }

func (unimplementedServiceManager) List(ctx context.Context) ([]ServiceEntry, error) {
	return nil, ErrUnsupported
}

type unimplementedEventTaps struct{}

func NewEventTaps() EventTaps { return unimplementedEventTaps{} }

func (unimplementedEventTaps) List(ctx context.Context) ([]EventTapEntry, error) {
	return nil, ErrUnsupported
}

type unimplementedKextLister struct{}

func NewKextLister() KextLister { return unimplementedKextLister{} }

func (unimplementedKextLister) List(ctx context.Context) ([]KextEntry, error) {
	return nil, ErrUnsupported
}
