package behavior

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/outrider-security/sentinel/internal/launchd"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

const logIntegrityMaxAge = 7 * 24 * time.Hour
const minUnifiedLogSizeBytes = 1 << 20 // 1 MiB

// LogIntegrity implements the four log-tampering indicators: a recent
// crash of a security-critical daemon, an unexpectedly small unified-log
// store (consistent with log clearing), a logging-subsystem plist that
// disables a subsystem (Level=Off), and a recent kernel panic.
type LogIntegrity struct {
	CrashReportDirs   []string
	CriticalProcesses []string
	UnifiedLogPath    string
	LoggingPlistPaths []string
	Now               func() time.Time
}

func (l *LogIntegrity) Name() string { return "behavior.log_integrity" }

func (l *LogIntegrity) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *LogIntegrity) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly
	home, _ := os.UserHomeDir()
	cutoff := l.now().Add(-logIntegrityMaxAge)

	dirs := l.CrashReportDirs
	if dirs == nil {
		dirs = DefaultCrashReportDirs
	}
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
			info, err := e.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			full := filepath.Join(path, e.Name())

			if ext == ".panic" {
				subject := model.FilesystemSubject(e.Name(), full)
				anomalies = append(anomalies, model.NewFilesystemAnomaly(l.Name(), "Recent Kernel Panic",
					full+" is a kernel panic report from within the last 7 days",
					model.SeverityHigh, "T1070", "diagnostic_reports_scan", subject,
					model.NewEvidence(model.Pair("path", full))))
				continue
			}
			if (ext == ".ips" || ext == ".crash") && containsSubstring(l.CriticalProcesses, e.Name()) {
				subject := model.FilesystemSubject(e.Name(), full)
				anomalies = append(anomalies, model.NewFilesystemAnomaly(l.Name(), "Security-Critical Daemon Crash",
					full+" is a recent crash report for a security-critical daemon",
					model.SeverityHigh, "T1070", "diagnostic_reports_scan", subject,
					model.NewEvidence(model.Pair("path", full))))
			}
		}
	}

	if l.UnifiedLogPath != "" {
		if info, err := os.Stat(l.UnifiedLogPath); err == nil {
			if size := dirOrFileSize(l.UnifiedLogPath, info); size < minUnifiedLogSizeBytes {
				subject := model.FilesystemSubject("unified log store", l.UnifiedLogPath)
				anomalies = append(anomalies, model.NewFilesystemAnomaly(l.Name(), "Unified Log Store Undersized",
					"unified log store is smaller than 1 MiB, consistent with log clearing",
					model.SeverityHigh, "T1070.002", "stat", subject,
					model.NewEvidence(model.Pair("path", l.UnifiedLogPath), model.Pair("size_bytes", strconv.FormatInt(size, 10)))))
			}
		}
	}

	for _, plistPath := range l.LoggingPlistPaths {
		dict, err := launchd.ParsePlistFile(plistPath)
		if err != nil {
			continue
		}
		if findLevelOff(dict) {
			subject := model.FilesystemSubject(filepath.Base(plistPath), plistPath)
			anomalies = append(anomalies, model.NewFilesystemAnomaly(l.Name(), "Logging Subsystem Disabled",
				plistPath+" sets a logging Level to Off",
				model.SeverityMedium, "T1562.002", "logging_plist_scan", subject,
				model.NewEvidence(model.Pair("path", plistPath))))
		}
	}

	return anomalies, nil
}

func findLevelOff(dict map[string]any) bool {
	for key, val := range dict {
		if key == "Level" {
			if s, ok := val.(string); ok && s == "Off" {
				return true
			}
		}
		if sub, ok := val.(map[string]any); ok {
			if findLevelOff(sub) {
				return true
			}
		}
	}
	return false
}

func dirOrFileSize(path string, info os.FileInfo) int64 {
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	_ = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil || fi == nil || fi.IsDir() {
			return nil
		}
		total += fi.Size()
		return nil
	})
	return total
}
