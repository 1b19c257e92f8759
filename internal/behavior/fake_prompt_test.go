package behavior

import (
	"context"
	"strings"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
)

var testFakePromptPatterns = []string{
	"display dialog", "hidden answer", "with icon caution",
	"system preferences", "system settings", "password", "administrator privileges",
	"update required",
}

func TestFakePasswordPromptScenarioS4(t *testing.T) {
	probe := &FakePasswordPrompt{
		ProcessArgs: fakeProcessArgs{argv: map[int][]string{
			888: {"osascript", "-e", "display dialog \"Enter password\" with hidden answer"},
		}},
		Patterns: testFakePromptPatterns,
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 888, Name: "osascript", Path: "/usr/bin/osascript"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	a := anomalies[0]
	if a.Severity != 3 {
		t.Errorf("Severity = %v, want critical", a.Severity)
	}
	matched := a.Evidence.Get("matched_patterns")
	for _, want := range []string{"display dialog", "hidden answer", "password"} {
		if !strings.Contains(matched, want) {
			t.Errorf("matched_patterns = %q, missing %q", matched, want)
		}
	}
}

func TestFakePasswordPromptSinglePatternIsQuiet(t *testing.T) {
	probe := &FakePasswordPrompt{
		ProcessArgs: fakeProcessArgs{argv: map[int][]string{
			1: {"osascript", "-e", "display dialog \"hi\""},
		}},
		Patterns: testFakePromptPatterns,
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 1, Name: "osascript", Path: "/usr/bin/osascript"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies for single pattern match, got %+v", anomalies)
	}
}

func TestFakePasswordPromptStagingDirectoryAnomaly(t *testing.T) {
	probe := &FakePasswordPrompt{
		ProcessArgs: fakeProcessArgs{argv: map[int][]string{
			2: {"osascript", "script.scpt"},
		}},
		Patterns: testFakePromptPatterns,
	}
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 2, Name: "osascript", Path: "/tmp/osascript"}})

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Technique != "Prompt Script In Staging Directory" {
		t.Errorf("Technique = %q", anomalies[0].Technique)
	}
}
