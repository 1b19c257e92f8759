package behavior

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestLogIntegrityDetectsRecentKernelPanic(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/2026-07-28-120000.panic"
	if err := os.WriteFile(path, []byte("panic(cpu 0 caller 0x0): \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := &LogIntegrity{
		CrashReportDirs: []string{dir},
		Now:             func() time.Time { return time.Now() },
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Technique != "Recent Kernel Panic" {
		t.Errorf("Technique = %q", anomalies[0].Technique)
	}
}

func TestLogIntegrityDetectsCriticalDaemonCrash(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/securityd-2026-07-28-120000.ips"
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := &LogIntegrity{
		CrashReportDirs:   []string{dir},
		CriticalProcesses: []string{"securityd", "WindowServer"},
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

func TestLogIntegrityDetectsUndersizedUnifiedLogStore(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/logstore"
	if err := os.WriteFile(path, []byte("tiny"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := &LogIntegrity{UnifiedLogPath: path}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Technique != "Unified Log Store Undersized" {
		t.Errorf("Technique = %q", anomalies[0].Technique)
	}
}

func TestLogIntegrityDetectsLoggingSubsystemDisabled(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/com.apple.system.logging.plist"
	plist := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Subsystems</key>
	<dict>
		<key>com.apple.security</key>
		<dict>
			<key>Level</key>
			<string>Off</string>
		</dict>
	</dict>
</dict>
</plist>`
	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	probe := &LogIntegrity{LoggingPlistPaths: []string{path}}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Severity != 1 { // medium
		t.Errorf("Severity = %v, want medium", anomalies[0].Severity)
	}
}
