//go:build !darwin

package platform

import "context"

type stubProcessTable struct{}

// NewProcessTable returns a stub ProcessTable on non-darwin platforms; the
// core is darwin-only per scope, this exists so the rest of the module
// still builds and unit-tests elsewhere.
func NewProcessTable() ProcessTable { return stubProcessTable{} }

func (stubProcessTable) List(ctx context.Context) ([]ProcessEntry, error) {
	return nil, ErrUnsupported
}

type stubProcessArgs struct{}

func NewProcessArgs() ProcessArgs { return stubProcessArgs{} }

func (stubProcessArgs) Args(ctx context.Context, pid int) ([]string, map[string]string, error) {
	return nil, nil, ErrUnsupported
}
