package machtask

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/platform"
)

// Enumerate returns the pid set derived by translating task ports
// obtained from the default processor-set task port. A task whose port
// fails pid_for_task translation is already dropped by the lister
// (platform.MachTaskLister's contract), not surfaced here.
func Enumerate(ctx context.Context, lister platform.MachTaskLister) ([]platform.MachTaskRef, error) {
	refs, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("machtask: enumerate: %w", err)
	}
	return refs, nil
}

// PIDSet projects refs to a plain set of pids for cross-referencing
// against the BSD snapshot and the signal-probe sweep.
func PIDSet(refs []platform.MachTaskRef) map[int]bool {
	out := make(map[int]bool, len(refs))
	for _, r := range refs {
		out[r.PID] = true
	}
	return out
}
