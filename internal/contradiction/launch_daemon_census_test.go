package contradiction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type fakeServiceManager struct {
	entries []platform.ServiceEntry
}

func (f fakeServiceManager) List(ctx context.Context) ([]platform.ServiceEntry, error) {
	return f.entries, nil
}

func writePlist(t *testing.T, dir, filename, label, program string) {
	t.Helper()
	content := `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
<key>Label</key><string>` + label + `</string>
<key>Program</key><string>` + program + `</string>
</dict></plist>`
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		t.Fatalf("write plist: %v", err)
	}
}

func TestLaunchDaemonCensusPhantomDaemon(t *testing.T) {
	dir := t.TempDir()
	writePlist(t, dir, "com.x.evil.plist", "com.x.evil", "/opt/evil")

	probe := &LaunchDaemonCensus{
		Directories:    []string{dir},
		ServiceManager: fakeServiceManager{entries: []platform.ServiceEntry{{Label: "com.x.evil", PID: 777}}},
		StatFile: func(path string) error {
			return os.ErrNotExist // /opt/evil was deleted
		},
	}

	snap := buildSnapshot(t, nil)
	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(anomalies))
	}
	a := anomalies[0]
	if a.Technique != "Phantom Launch Daemon" {
		t.Errorf("Technique = %q", a.Technique)
	}
	if a.Evidence.Get("label") != "com.x.evil" || a.Evidence.Get("missing_binary") != "/opt/evil" {
		t.Errorf("evidence = %v", a.Evidence.Pairs())
	}
	if a.Subject.PID != 777 {
		t.Errorf("PID = %d, want 777", a.Subject.PID)
	}
}

func TestLaunchDaemonCensusGhostDaemon(t *testing.T) {
	dir := t.TempDir() // no plists at all

	probe := &LaunchDaemonCensus{
		Directories:    []string{dir},
		ServiceManager: fakeServiceManager{entries: []platform.ServiceEntry{{Label: "com.x.ghost", PID: 42}}},
	}
	snap := buildSnapshot(t, nil)
	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].Technique != "Ghost Launch Daemon" {
		t.Fatalf("anomalies = %+v", anomalies)
	}
}

func TestLaunchDaemonCensusExcludesApplePrefixed(t *testing.T) {
	dir := t.TempDir()
	probe := &LaunchDaemonCensus{
		Directories:    []string{dir},
		ServiceManager: fakeServiceManager{entries: []platform.ServiceEntry{{Label: "com.apple.cfprefsd", PID: 10}}},
	}
	snap := buildSnapshot(t, nil)
	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("expected Apple-prefixed label to be excluded, got %+v", anomalies)
	}
}

func TestLaunchDaemonCensusShadowDaemonProcess(t *testing.T) {
	dir := t.TempDir()
	writePlist(t, dir, "com.x.shadow.plist", "com.x.shadow", "/opt/shadow")

	probe := &LaunchDaemonCensus{
		Directories:    []string{dir},
		ServiceManager: fakeServiceManager{}, // no entry for com.x.shadow at all
		StatFile:       func(path string) error { return nil },
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 55, Name: "shadow", Path: "/opt/shadow"}})
	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].Technique != "Shadow Daemon Process" {
		t.Fatalf("anomalies = %+v", anomalies)
	}
	if anomalies[0].Subject.PID != 55 {
		t.Errorf("PID = %d, want 55", anomalies[0].Subject.PID)
	}
}
