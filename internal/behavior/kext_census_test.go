package behavior

import (
	"context"
	"os"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type fakeKextLister struct {
	entries []platform.KextEntry
}

func (f fakeKextLister) List(ctx context.Context) ([]platform.KextEntry, error) {
	return f.entries, nil
}

type fakeKernelStats struct {
	bootArgs []string
}

func (f fakeKernelStats) BootArgs(ctx context.Context) ([]string, error) { return f.bootArgs, nil }
func (f fakeKernelStats) ICMPCounters(ctx context.Context) (uint64, uint64, error) {
	return 0, 0, nil
}

func TestKextCensusFlagsNonAppleKext(t *testing.T) {
	probe := &KextCensus{
		KextLister: fakeKextLister{entries: []platform.KextEntry{
			{BundleID: "com.evilcorp.keylog.driver", Version: "1.0", Loaded: true},
		}},
		MaliciousKexts: []string{"keylog", "rootkit"},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Severity != 3 {
		t.Errorf("Severity = %v, want critical", anomalies[0].Severity)
	}
}

func TestKextCensusIgnoresAppleKext(t *testing.T) {
	probe := &KextCensus{
		KextLister: fakeKextLister{entries: []platform.KextEntry{
			{BundleID: "com.apple.driver.AppleHIDKeyboard", Version: "1.0", Loaded: true},
		}},
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

func TestKextCensusSuspiciousBootArg(t *testing.T) {
	probe := &KextCensus{
		KernelStats:        fakeKernelStats{bootArgs: []string{"amfi_get_out_of_my_way=1", "-v"}},
		SuspiciousBootArgs: []string{"amfi_get_out_of_my_way", "-v"},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 2 {
		t.Fatalf("anomalies = %+v, want 2", anomalies)
	}
}

func TestKextCensusOrphanedSystemExtension(t *testing.T) {
	dir := t.TempDir()
	missing := dir + "/gone.appex"
	probe := &KextCensus{
		ListSystemExtensions: func() ([]SystemExtensionEntry, error) {
			return []SystemExtensionEntry{
				{BundleID: "com.thirdparty.ext", State: "activated_enabled", ContainingPath: missing},
			}, nil
		},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Technique != "Orphaned System Extension" {
		t.Errorf("Technique = %q", anomalies[0].Technique)
	}
}

func TestKextCensusBundleIOClassMatch(t *testing.T) {
	dir := t.TempDir()
	bundle := dir + "/Evil.kext"
	contents := bundle + "/Contents"
	if err := os.MkdirAll(contents, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	plist := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>IOKitPersonalities</key>
	<dict>
		<key>EvilHIDTap</key>
		<dict>
			<key>IOClass</key>
			<string>IOHIDDevice</string>
		</dict>
	</dict>
</dict>
</plist>`
	if err := os.WriteFile(contents+"/Info.plist", []byte(plist), 0o644); err != nil {
		t.Fatalf("write plist: %v", err)
	}

	probe := &KextCensus{ExtensionDirs: []string{dir}}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	found := false
	for _, a := range anomalies {
		if a.Technique == "Kext Claims Sensitive IOClass" {
			found = true
			if a.Evidence.Get("io_class") != "IOHIDDevice" {
				t.Errorf("io_class = %q", a.Evidence.Get("io_class"))
			}
		}
	}
	if !found {
		t.Fatalf("expected IOClass anomaly, got %+v", anomalies)
	}
}
