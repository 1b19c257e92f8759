package behavior

import (
	"context"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type rwxFakeTaskPort struct {
	regions []platform.VMRegion
}

func (f rwxFakeTaskPort) Close() error { return nil }
func (f rwxFakeTaskPort) Read(ctx context.Context, addr uint64, length int) ([]byte, error) {
	return nil, platform.ErrNotPresent
}
func (f rwxFakeTaskPort) Regions(ctx context.Context) ([]platform.VMRegion, error) {
	return f.regions, nil
}
func (f rwxFakeTaskPort) DyldAllImageInfosAddr(ctx context.Context) (uint64, error) {
	return 0, platform.ErrUnsupported
}

type rwxFakeOpener struct {
	port platform.TaskPort
	err  error
}

func (f rwxFakeOpener) Open(ctx context.Context, pid int) (platform.TaskPort, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.port, nil
}

type fakeThreadLister struct {
	counts map[int]int
}

func (f fakeThreadLister) ThreadCount(ctx context.Context, pid int) (int, error) {
	c, ok := f.counts[pid]
	if !ok {
		return 0, platform.ErrUnsupported
	}
	return c, nil
}

func TestMemoryRWXDetectsAnonymousWriteExecuteRegion(t *testing.T) {
	probe := &MemoryRWX{
		Opener: rwxFakeOpener{port: rwxFakeTaskPort{regions: []platform.VMRegion{
			{Addr: 0x1000, Size: 0x1000, Protection: memProtWrite | memProtExecute, Path: ""},
		}}},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 33, Name: "victim", Path: "/Applications/Victim.app/victim"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Evidence.Get("rwx_region_count") != "1" {
		t.Errorf("rwx_region_count = %q", anomalies[0].Evidence.Get("rwx_region_count"))
	}
}

func TestMemoryRWXIgnoresMappedTextRegion(t *testing.T) {
	probe := &MemoryRWX{
		Opener: rwxFakeOpener{port: rwxFakeTaskPort{regions: []platform.VMRegion{
			{Addr: 0x1000, Size: 0x1000, Protection: memProtWrite | memProtExecute, Path: "/usr/lib/dyld"},
		}}},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 34, Name: "victim", Path: "/usr/bin/victim"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies for mapped-file region, got %+v", anomalies)
	}
}

func TestMemoryRWXExcessiveThreadCount(t *testing.T) {
	probe := &MemoryRWX{
		Opener:       rwxFakeOpener{err: platform.ErrPermission},
		ThreadLister: fakeThreadLister{counts: map[int]int{55: 250}},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 55, Name: "busy", Path: "/usr/bin/busy"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Technique != "Excessive Thread Count" {
		t.Errorf("Technique = %q", anomalies[0].Technique)
	}
}

func TestMemoryRWXExcludesSystemAndJITProcesses(t *testing.T) {
	probe := &MemoryRWX{
		Opener:             rwxFakeOpener{err: platform.ErrPermission},
		SystemProcessNames: []string{"sysproc"},
		JITAllowlist:       []string{"jsc"},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{
		{PID: 1, Name: "sysproc", Path: "/usr/libexec/sysproc"},
		{PID: 2, Name: "jsc", Path: "/usr/bin/jsc"},
	})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected system/JIT processes to be skipped, got %+v", anomalies)
	}
}
