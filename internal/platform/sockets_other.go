//go:build !darwin

package platform

import "context"

type stubFDTable struct{}

func NewFDTable() FDTable { return stubFDTable{} }

func (stubFDTable) List(ctx context.Context, pid int) ([]FDEntry, error) {
	return nil, ErrUnsupported
}

type stubSignalProbe struct{}

func NewSignalProbe() SignalProbe { return stubSignalProbe{} }

func (stubSignalProbe) Probe(pid int) bool { return false }

type stubKernelStats struct{}

func NewKernelStats() KernelStats { return stubKernelStats{} }

func (stubKernelStats) BootArgs(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}
func (stubKernelStats) MaxProc(ctx context.Context) (int, error) { return 0, ErrUnsupported }
func (stubKernelStats) ICMPCounters(ctx context.Context) (uint64, uint64, error) {
	return 0, 0, ErrUnsupported
}

type stubCodeSignQuery struct{}

func NewCodeSignQuery() CodeSignQuery { return stubCodeSignQuery{} }

func (stubCodeSignQuery) FlagsForPID(ctx context.Context, pid int) (uint32, error) {
	return 0, ErrUnsupported
}

type stubDiskArbitration struct{}

func NewDiskArbitration() DiskArbitration { return stubDiskArbitration{} }

func (stubDiskArbitration) List(ctx context.Context) ([]PartitionEntry, error) {
	return nil, ErrUnsupported
}

type stubServiceManager struct{}

func NewServiceManager() ServiceManager { return stubServiceManager{} }

func (stubServiceManager) List(ctx context.Context) ([]ServiceEntry, error) {
	return nil, ErrUnsupported
}

type stubEventTaps struct{}

func NewEventTaps() EventTaps { return stubEventTaps{} }

func (stubEventTaps) List(ctx context.Context) ([]EventTapEntry, error) {
	return nil, ErrUnsupported
}

type stubKextLister struct{}

func NewKextLister() KextLister { return stubKextLister{} }

func (stubKextLister) List(ctx context.Context) ([]KextEntry, error) {
	return nil, ErrUnsupported
}
