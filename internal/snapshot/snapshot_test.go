package snapshot

import (
	"context"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type fakeTable struct {
	entries []platform.ProcessEntry
}

func (f fakeTable) List(ctx context.Context) ([]platform.ProcessEntry, error) {
	return f.entries, nil
}

func TestCaptureDeterministic(t *testing.T) {
	table := fakeTable{entries: []platform.ProcessEntry{
		{PID: 1, Path: "/sbin/launchd", Name: "launchd", ParentPID: 0, UID: 0},
		{PID: 100, Path: "/usr/bin/ssh", Name: "ssh", ParentPID: 1, UID: 501},
	}}

	s1, err := Capture(context.Background(), table)
	if err != nil {
		t.Fatalf("capture 1: %v", err)
	}
	s2, err := Capture(context.Background(), table)
	if err != nil {
		t.Fatalf("capture 2: %v", err)
	}

	for _, pid := range s1.PIDs() {
		e1, ok1 := s1.Entry(pid)
		e2, ok2 := s2.Entry(pid)
		if !ok1 || !ok2 {
			t.Fatalf("pid %d missing from one capture", pid)
		}
		if e1.Path != e2.Path || e1.Name != e2.Name || e1.ParentPID != e2.ParentPID {
			t.Errorf("pid %d: capture mismatch: %+v vs %+v", pid, e1, e2)
		}
	}
}

func TestMissingPathGetsSyntheticName(t *testing.T) {
	table := fakeTable{entries: []platform.ProcessEntry{
		{PID: 42, Path: "", Name: "", ParentPID: 1, UID: 0},
	}}
	s, err := Capture(context.Background(), table)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if got := s.Name(42); got != "PID 42" {
		t.Errorf("Name(42) = %q, want %q", got, "PID 42")
	}
}

func TestParentChainStopsAtOne(t *testing.T) {
	table := fakeTable{entries: []platform.ProcessEntry{
		{PID: 1, Name: "launchd", ParentPID: 0},
		{PID: 10, Name: "a", ParentPID: 1},
		{PID: 20, Name: "b", ParentPID: 10},
	}}
	s, err := Capture(context.Background(), table)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	chain := s.ParentChain(20)
	want := []int{20, 10}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %d, want %d", i, chain[i], want[i])
		}
	}
}

func TestParentChainStopsAtCycle(t *testing.T) {
	table := fakeTable{entries: []platform.ProcessEntry{
		{PID: 5, Name: "a", ParentPID: 6},
		{PID: 6, Name: "b", ParentPID: 5},
	}}
	s, err := Capture(context.Background(), table)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	chain := s.ParentChain(5)
	if len(chain) != 2 {
		t.Fatalf("chain = %v, want length 2", chain)
	}
}
