package behavior

import (
	"context"
	"os"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type fakeProcessArgs struct {
	argv map[int][]string
	env  map[int]map[string]string
}

func (f fakeProcessArgs) Args(ctx context.Context, pid int) ([]string, map[string]string, error) {
	return f.argv[pid], f.env[pid], nil
}

func TestDYLDInjectionDetectsInsertLibrariesOnSystemPath(t *testing.T) {
	probe := &DYLDInjection{
		ProcessArgs: fakeProcessArgs{
			env: map[int]map[string]string{
				555: {"DYLD_INSERT_LIBRARIES": "/tmp/inj.dylib"},
			},
		},
		LaunchDirs:    []string{t.TempDir()},
		ShellProfiles: []string{},
		DangerousVars: []string{"DYLD_INSERT_LIBRARIES", "DYLD_LIBRARY_PATH"},
		Getenv:        func() []string { return nil },
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{
		{PID: 555, Name: "ssh", Path: "/usr/bin/ssh"},
	})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	a := anomalies[0]
	if a.Severity != 3 { // model.SeverityCritical
		t.Errorf("Severity = %v, want critical", a.Severity)
	}
	if a.Evidence.Get("env_var") != "DYLD_INSERT_LIBRARIES=/tmp/inj.dylib" {
		t.Errorf("env_var = %q", a.Evidence.Get("env_var"))
	}
	if a.Evidence.Get("is_system_process") != "true" {
		t.Errorf("is_system_process = %q", a.Evidence.Get("is_system_process"))
	}
}

func TestDYLDInjectionIgnoresBenignEnvironment(t *testing.T) {
	probe := &DYLDInjection{
		ProcessArgs: fakeProcessArgs{
			env: map[int]map[string]string{
				10: {"PATH": "/usr/bin"},
			},
		},
		LaunchDirs:    []string{t.TempDir()},
		ShellProfiles: []string{},
		DangerousVars: []string{"DYLD_INSERT_LIBRARIES"},
		Getenv:        func() []string { return nil },
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 10, Name: "bash", Path: "/bin/bash"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", anomalies)
	}
}

func TestDYLDInjectionScansShellProfileLines(t *testing.T) {
	dir := t.TempDir()
	profile := dir + "/zshrc"
	content := "export PATH=/usr/bin\nexport DYLD_INSERT_LIBRARIES=/tmp/evil.dylib\n"
	if err := os.WriteFile(profile, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	probe := &DYLDInjection{
		LaunchDirs:    []string{t.TempDir()},
		ShellProfiles: []string{profile},
		DangerousVars: []string{"DYLD_INSERT_LIBRARIES"},
		Getenv:        func() []string { return nil },
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Evidence.Get("line") != "2" {
		t.Errorf("line = %q, want 2", anomalies[0].Evidence.Get("line"))
	}
}
