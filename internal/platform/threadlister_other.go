//go:build !darwin

package platform

import "context"

type stubThreadLister struct{}

func NewThreadLister() ThreadLister { return stubThreadLister{} }

func (stubThreadLister) ThreadCount(ctx context.Context, pid int) (int, error) {
	return 0, ErrUnsupported
}
