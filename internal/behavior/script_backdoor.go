package behavior

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/shellobfus"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

const scriptReadCap = 8 * 1024

// DefaultScriptHostDirs lists the directories walked for backdoored
// scripts.
var DefaultScriptHostDirs = []string{
	"/Library/Scripts", "/Library/Application Support", "/usr/local/bin",
}

var scriptExtensions = map[string]bool{
	".sh": true, ".py": true, ".rb": true, ".pl": true,
	".scpt": true, ".applescript": true, ".command": true,
}

// ScriptBackdoor walks the script-hosting directories for files with a
// scripting extension outside the allowed path prefixes, reads up to 8
// KiB, runs the content through shellobfus.Deobfuscate, and matches both
// the raw and every decoded form against the dangerous-command-substring
// table.
type ScriptBackdoor struct {
	HostDirs              []string
	AllowedPathPrefixes   []string
	DangerousSubstrings   []string
}

func (s *ScriptBackdoor) Name() string { return "behavior.script_backdoor_scan" }

func (s *ScriptBackdoor) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	dirs := s.HostDirs
	if dirs == nil {
		dirs = DefaultScriptHostDirs
	}
	var anomalies []model.Anomaly
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		anomalies = append(anomalies, s.walk(dir)...)
	}
	return anomalies, nil
}

func (s *ScriptBackdoor) walk(dir string) []model.Anomaly {
	var anomalies []model.Anomaly
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if !scriptExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if isAllowedScriptPath(path, s.AllowedPathPrefixes) {
			return nil
		}
		if a, ok := s.inspect(path); ok {
			anomalies = append(anomalies, a)
		}
		return nil
	})
	return anomalies
}

func isAllowedScriptPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (s *ScriptBackdoor) inspect(path string) (model.Anomaly, bool) {
	f, err := os.Open(path)
	if err != nil {
		return model.Anomaly{}, false
	}
	defer f.Close()
	buf := make([]byte, scriptReadCap)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return model.Anomaly{}, false
	}
	content := string(buf[:n])

	var matched []string
	for _, sub := range s.DangerousSubstrings {
		if strings.Contains(content, sub) {
			matched = append(matched, sub)
		}
	}

	findings := shellobfus.Deobfuscate(content)
	var decodedMatches []string
	for _, finding := range findings {
		for _, sub := range s.DangerousSubstrings {
			if strings.Contains(finding.Decoded, sub) {
				decodedMatches = append(decodedMatches, fmt.Sprintf("%s:%s", finding.Technique, sub))
			}
		}
	}

	if len(matched) == 0 && len(decodedMatches) == 0 {
		return model.Anomaly{}, false
	}

	sev := model.SeverityHigh
	if len(decodedMatches) > 0 {
		sev = model.SeverityCritical
	}

	subject := model.FilesystemSubject(filepath.Base(path), path)
	ev := model.NewEvidence(
		model.Pair("path", path),
		model.Pair("matched_substrings", strings.Join(matched, ", ")),
		model.Pair("deobfuscated_matches", strings.Join(decodedMatches, ", ")),
	)
	return model.NewFilesystemAnomaly(s.Name(), "Script Backdoor",
		fmt.Sprintf("%s contains dangerous command content", path),
		sev, "T1059", "script_content_scan", subject, ev), true
}
