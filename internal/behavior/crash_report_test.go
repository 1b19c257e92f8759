package behavior

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestCrashReportTriageDetectsExploitationSignature(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/WindowServer-2026-07-28-120000.ips"
	if err := os.WriteFile(path, []byte("Exception Type: EXC_BAD_ACCESS (SIGSEGV)\nuse-after-free detected\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := &CrashReportTriage{
		Dirs:                 []string{dir},
		CriticalProcesses:    []string{"WindowServer", "loginwindow", "securityd"},
		ExploitationPatterns: []string{"EXC_BAD_ACCESS", "use-after-free", "double free"},
		Now:                  func() time.Time { return time.Now() },
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
}

func TestCrashReportTriageIgnoresNonCriticalProcess(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/SomeApp-2026-07-28-120000.ips"
	if err := os.WriteFile(path, []byte("EXC_BAD_ACCESS\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := &CrashReportTriage{
		Dirs:                 []string{dir},
		CriticalProcesses:    []string{"WindowServer"},
		ExploitationPatterns: []string{"EXC_BAD_ACCESS"},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", anomalies)
	}
}

func TestCrashReportTriageIgnoresStaleReport(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/WindowServer-old.ips"
	if err := os.WriteFile(path, []byte("EXC_BAD_ACCESS\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	probe := &CrashReportTriage{
		Dirs:                 []string{dir},
		CriticalProcesses:    []string{"WindowServer"},
		ExploitationPatterns: []string{"EXC_BAD_ACCESS"},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected stale report to be skipped, got %+v", anomalies)
	}
}
