package behavior

import (
	"context"
	"fmt"
	"strings"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

var fakePromptHostProcesses = []string{"osascript", "Script Editor"}

var fakePromptSuspiciousPathPrefixes = []string{"/tmp/", "/var/tmp/", "/Users/Shared/"}

// FakePasswordPrompt flags osascript/Script Editor invocations whose
// arguments read like a credential-phishing dialog, and separately flags
// any such process running from a world-writable staging directory.
type FakePasswordPrompt struct {
	ProcessArgs platform.ProcessArgs
	Patterns    []string
}

func (f *FakePasswordPrompt) Name() string { return "behavior.fake_password_prompt" }

func (f *FakePasswordPrompt) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	if f.ProcessArgs == nil {
		return nil, nil
	}
	var anomalies []model.Anomaly
	for _, pid := range snap.PIDs() {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		name := snap.Name(pid)
		if !containsString(fakePromptHostProcesses, name) {
			continue
		}
		path := snap.Path(pid)
		argv, _, err := f.ProcessArgs.Args(ctx, pid)
		if err != nil {
			continue
		}
		joined := strings.Join(argv, " ")
		var matched []string
		for _, pat := range f.Patterns {
			if strings.Contains(joined, pat) {
				matched = append(matched, pat)
			}
		}
		subject := model.ProcessSubject(pid, name, path)
		if len(matched) >= 2 {
			ev := model.NewEvidence(
				model.Pair("pid", fmt.Sprintf("%d", pid)),
				model.Pair("matched_patterns", strings.Join(matched, ", ")),
			)
			anomalies = append(anomalies, model.NewProcessAnomaly(f.Name(), "Fake Password Prompt",
				fmt.Sprintf("pid %d (%s) matched %d phishing-prompt patterns", pid, name, len(matched)),
				model.SeverityCritical, "T1056.002", "kern_procargs2", subject, ev))
		}
		for _, prefix := range fakePromptSuspiciousPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				ev := model.NewEvidence(
					model.Pair("pid", fmt.Sprintf("%d", pid)),
					model.Pair("path", path),
				)
				anomalies = append(anomalies, model.NewProcessAnomaly(f.Name(), "Prompt Script In Staging Directory",
					fmt.Sprintf("pid %d (%s) runs from staging directory %s", pid, name, path),
					model.SeverityHigh, "T1056.002", "kern_procargs2", subject, ev))
				break
			}
		}
	}
	return anomalies, nil
}
