package behavior

import (
	"context"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

type fakeEventTaps struct {
	entries []platform.EventTapEntry
}

func (f fakeEventTaps) List(ctx context.Context) ([]platform.EventTapEntry, error) {
	return f.entries, nil
}

func TestEventTapScanFlagsSystemWideKeyboardTap(t *testing.T) {
	probe := &EventTapScan{
		EventTaps: fakeEventTaps{entries: []platform.EventTapEntry{
			{TappingPID: 77, TargetPID: 0, EventMask: keyboardEventMask, Enabled: true, SystemWide: true},
		}},
		Allowlist: nil,
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 77, Name: "keylog-thing", Path: ""}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Severity != 2 { // model.SeverityHigh
		t.Errorf("Severity = %v, want high", anomalies[0].Severity)
	}
}

func TestEventTapScanIgnoresNonKeyboardMask(t *testing.T) {
	probe := &EventTapScan{
		EventTaps: fakeEventTaps{entries: []platform.EventTapEntry{
			{TappingPID: 1, EventMask: 1 << 1, Enabled: true},
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

func TestEventTapScanDisabledTapIgnored(t *testing.T) {
	probe := &EventTapScan{
		EventTaps: fakeEventTaps{entries: []platform.EventTapEntry{
			{TappingPID: 1, EventMask: keyboardEventMask, Enabled: false, SystemWide: true},
		}},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies for disabled tap, got %+v", anomalies)
	}
}
