// Package snapshot captures the process table once per scan and exposes
// pure derived views over it. Grounded on the cgo-free sysctl-based
// process enumeration pattern, generalized here from a single tracer's
// exec-event bookkeeping to a full, read-only, one-shot census.
package snapshot

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/platform"
)

// Entry is one process as captured at snapshot time.
type Entry struct {
	PID       int
	Path      string
	Name      string
	ParentPID int
	UID       int
}

// Snapshot is an immutable, read-only view of the process table captured
// atomically at the start of a scan. It is shared by reference with every
// probe in that scan and discarded at the scan's end.
type Snapshot struct {
	byPID map[int]Entry
	order []int // pid ascending, for deterministic iteration
}

// Capture enumerates every live process and returns the snapshot. Failure
// to resolve an individual pid's fields never aborts the capture; that
// pid is recorded with empty Path and a synthetic "PID <n>" Name.
func Capture(ctx context.Context, table platform.ProcessTable) (*Snapshot, error) {
	entries, err := table.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: capture: %w", err)
	}

	s := &Snapshot{byPID: make(map[int]Entry, len(entries))}
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("PID %d", e.PID)
		}
		s.byPID[e.PID] = Entry{
			PID:       e.PID,
			Path:      e.Path,
			Name:      name,
			ParentPID: e.ParentPID,
			UID:       e.UID,
		}
	}
	s.order = sortedPIDs(s.byPID)
	return s, nil
}

func sortedPIDs(m map[int]Entry) []int {
	out := make([]int, 0, len(m))
	for pid := range m {
		out = append(out, pid)
	}
	// small n per scan; insertion sort keeps this package dependency-free.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// PIDs returns every captured pid, ascending.
func (s *Snapshot) PIDs() []int {
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// Entry returns the captured entry for pid and whether it was present.
func (s *Snapshot) Entry(pid int) (Entry, bool) {
	e, ok := s.byPID[pid]
	return e, ok
}

// Name returns the process name for pid, or "" if absent.
func (s *Snapshot) Name(pid int) string {
	return s.byPID[pid].Name
}

// Path returns the executable path for pid, or "" if absent or unreadable.
func (s *Snapshot) Path(pid int) string {
	return s.byPID[pid].Path
}

// Parent returns the parent pid, or 0 if pid is absent.
func (s *Snapshot) Parent(pid int) int {
	return s.byPID[pid].ParentPID
}

// PIDsByName returns every pid whose captured name equals name, ascending.
func (s *Snapshot) PIDsByName(name string) []int {
	var out []int
	for _, pid := range s.order {
		if s.byPID[pid].Name == name {
			out = append(out, pid)
		}
	}
	return out
}

// ParentChain walks parent pids starting at pid, stopping at pid <= 1 or a
// cycle.
func (s *Snapshot) ParentChain(pid int) []int {
	var chain []int
	seen := make(map[int]bool)
	cur := pid
	for cur > 1 && !seen[cur] {
		seen[cur] = true
		chain = append(chain, cur)
		next, ok := s.byPID[cur]
		if !ok {
			break
		}
		cur = next.ParentPID
	}
	return chain
}

// Len returns the number of captured processes.
func (s *Snapshot) Len() int { return len(s.byPID) }
