package behavior

import (
	"context"
	"os"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type fakeFDTable struct {
	fds map[int][]platform.FDEntry
}

func (f fakeFDTable) List(ctx context.Context, pid int) ([]platform.FDEntry, error) {
	return f.fds[pid], nil
}

func TestCredentialAccessDetectsOpenCredentialFile(t *testing.T) {
	probe := &CredentialAccess{
		FDTable: fakeFDTable{fds: map[int][]platform.FDEntry{
			42: {{FD: 4, Type: "vnode", VnodePath: "/Users/bob/.aws/credentials"}},
		}},
		CredentialFiles: []string{"/Users/bob/.aws/credentials"},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 42, Name: "curl", Path: "/usr/bin/curl"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Evidence.Get("credential_file") != "/Users/bob/.aws/credentials" {
		t.Errorf("credential_file = %q", anomalies[0].Evidence.Get("credential_file"))
	}
}

func TestCredentialAccessOverlyPermissiveSSHKey(t *testing.T) {
	dir := t.TempDir()
	key := dir + "/id_rsa"
	if err := os.WriteFile(key, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	probe := &CredentialAccess{
		CredentialFiles: []string{key},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	found := false
	for _, a := range anomalies {
		if a.Technique == "Overly Permissive SSH Key" {
			found = true
			if a.Evidence.Get("mode") != "0644" {
				t.Errorf("mode = %q, want 0644", a.Evidence.Get("mode"))
			}
		}
	}
	if !found {
		t.Fatalf("expected overly permissive ssh key anomaly, got %+v", anomalies)
	}
}

func TestCredentialAccessStrictSSHKeyIsQuiet(t *testing.T) {
	dir := t.TempDir()
	key := dir + "/id_ed25519"
	if err := os.WriteFile(key, []byte("fake"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	probe := &CredentialAccess{
		CredentialFiles: []string{key},
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

func TestCredentialAccessCloudCredentialsExistenceIsLowSeverity(t *testing.T) {
	dir := t.TempDir()
	creds := dir + "/.aws/credentials"
	if err := os.MkdirAll(dir+"/.aws", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(creds, []byte("[default]"), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	probe := &CredentialAccess{
		CredentialFiles: []string{creds},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Severity != 0 { // model.SeverityLow
		t.Errorf("Severity = %v, want low", anomalies[0].Severity)
	}
}

func TestCredentialAccessScriptInterpreterKeywordMatch(t *testing.T) {
	probe := &CredentialAccess{
		ProcessArgs: fakeProcessArgs{
			argv: map[int][]string{
				7: {"python3", "-c", "steal_cookies.py --target=login.keychain"},
			},
		},
		CredKeywords: []string{"keychain"},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 7, Name: "python3", Path: "/usr/bin/python3"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Evidence.Get("keyword") != "keychain" {
		t.Errorf("keyword = %q", anomalies[0].Evidence.Get("keyword"))
	}
}

func TestCredentialAccessBrowserIgnoredForScriptCheck(t *testing.T) {
	probe := &CredentialAccess{
		ProcessArgs: fakeProcessArgs{
			argv: map[int][]string{
				8: {"--profile", "keychain"},
			},
		},
		CredKeywords: []string{"keychain"},
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 8, Name: "Google Chrome", Path: "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies for non-interpreter process, got %+v", anomalies)
	}
}
