package behavior

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

const crashReportReadCap = 2 * 1024
const crashReportMaxAge = 7 * 24 * time.Hour

// DefaultCrashReportDirs lists the two diagnostic-report directories
// walked for crash reports.
var DefaultCrashReportDirs = []string{
	"/Library/Logs/DiagnosticReports", "~/Library/Logs/DiagnosticReports",
}

var crashReportExtensions = map[string]bool{".ips": true, ".crash": true}

// CrashReportTriage walks the diagnostic-report directories for recent
// crash reports naming a critical process whose content matches an
// exploitation pattern, emitting at most one finding per file.
type CrashReportTriage struct {
	Dirs                 []string
	CriticalProcesses    []string
	ExploitationPatterns []string
	Now                  func() time.Time
}

func (c *CrashReportTriage) Name() string { return "behavior.crash_report_triage" }

func (c *CrashReportTriage) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *CrashReportTriage) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	dirs := c.Dirs
	if dirs == nil {
		dirs = DefaultCrashReportDirs
	}
	home, _ := os.UserHomeDir()
	var anomalies []model.Anomaly
	cutoff := c.now().Add(-crashReportMaxAge)

	for _, dir := range dirs {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		path := expandHome(dir, home)
		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if !crashReportExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			if !containsSubstring(c.CriticalProcesses, e.Name()) {
				continue
			}
			if a, ok := c.inspect(filepath.Join(path, e.Name()), e.Name()); ok {
				anomalies = append(anomalies, a)
			}
		}
	}
	return anomalies, nil
}

func (c *CrashReportTriage) inspect(path, name string) (model.Anomaly, bool) {
	f, err := os.Open(path)
	if err != nil {
		return model.Anomaly{}, false
	}
	defer f.Close()
	buf := make([]byte, crashReportReadCap)
	n, _ := f.Read(buf)
	content := string(buf[:n])

	for _, pat := range c.ExploitationPatterns {
		if !strings.Contains(content, pat) {
			continue
		}
		subject := model.FilesystemSubject(name, path)
		ev := model.NewEvidence(
			model.Pair("path", path),
			model.Pair("matched_pattern", pat),
		)
		return model.NewFilesystemAnomaly(c.Name(), "Critical Process Crash With Exploitation Signature",
			path+" shows "+pat, model.SeverityCritical, "T1499", "crash_report_scan", subject, ev), true
	}
	return model.Anomaly{}, false
}
