//go:build !darwin

package platform

import "context"

type stubTaskPortOpener struct{}

func NewTaskPortOpener() TaskPortOpener { return stubTaskPortOpener{} }

func (stubTaskPortOpener) Open(ctx context.Context, pid int) (TaskPort, error) {
	return nil, ErrUnsupported
}

type stubMachTaskLister struct{}

func NewMachTaskLister() MachTaskLister { return stubMachTaskLister{} }

func (stubMachTaskLister) List(ctx context.Context) ([]MachTaskRef, error) {
	return nil, ErrUnsupported
}
