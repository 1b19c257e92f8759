// Package behavior implements the single-source behavior probes of
// spec.md §4.10: each inspects one process or one on-disk artifact
// against a fixed danger signature, independent of any cross-source
// comparison.
package behavior

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/outrider-security/sentinel/internal/launchd"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// DefaultShellProfiles lists the shell startup files scanned for DYLD
// variable assignments, user-relative and system-wide.
var DefaultShellProfiles = []string{
	"~/.zshrc", "~/.zprofile", "~/.bash_profile", "~/.bashrc", "~/.profile",
	"/etc/zshrc", "/etc/profile",
}

// DYLDInjection flags any DYLD_* environment variable from the dangerous
// table wherever it appears: a running process's environment, an on-disk
// launchd plist's EnvironmentVariables, a shell profile assignment line,
// or this scanner's own environment.
type DYLDInjection struct {
	ProcessArgs     platform.ProcessArgs
	LaunchDirs      []string
	ShellProfiles   []string
	DangerousVars   []string
	Getenv          func() []string // overridable in tests; defaults to os.Environ
}

func (d *DYLDInjection) Name() string { return "behavior.dyld_injection" }

func (d *DYLDInjection) isDangerous(key string) bool {
	for _, v := range d.DangerousVars {
		if v == key {
			return true
		}
	}
	return false
}

func (d *DYLDInjection) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	if d.ProcessArgs != nil {
		for _, pid := range snap.PIDs() {
			if ctx.Err() != nil {
				return anomalies, nil
			}
			_, env, err := d.ProcessArgs.Args(ctx, pid)
			if err != nil {
				continue
			}
			name := snap.Name(pid)
			path := snap.Path(pid)
			for key, val := range env {
				if !d.isDangerous(key) {
					continue
				}
				sev := model.SeverityHigh
				if key == "DYLD_INSERT_LIBRARIES" {
					sev = model.SeverityCritical
				}
				isSystem := isSystemPath(path)
				if isSystem {
					sev = model.SeverityCritical
				}
				subject := model.ProcessSubject(pid, name, path)
				ev := model.NewEvidence(
					model.Pair("env_var", fmt.Sprintf("%s=%s", key, val)),
					model.Pair("is_system_process", fmt.Sprintf("%t", isSystem)),
				)
				anomalies = append(anomalies, model.NewProcessAnomaly(d.Name(), key+" Injection",
					fmt.Sprintf("pid %d (%s) carries %s in its environment", pid, name, key),
					sev, "T1574.006", "kern_procargs2", subject, ev))
			}
		}
	}

	dirs := d.LaunchDirs
	if dirs == nil {
		dirs = launchd.DefaultDirectories
	}
	if plists, err := launchd.Discover(dirs); err == nil {
		for _, desc := range plists {
			for key, val := range desc.EnvVars {
				if !d.isDangerous(key) {
					continue
				}
				subject := model.FilesystemSubject(desc.Label, desc.PlistPath)
				ev := model.NewEvidence(
					model.Pair("env_var", fmt.Sprintf("%s=%s", key, val)),
					model.Pair("plist_path", desc.PlistPath),
				)
				anomalies = append(anomalies, model.NewFilesystemAnomaly(d.Name(), key+" Injection",
					fmt.Sprintf("launchd plist %s declares %s", desc.PlistPath, key),
					model.SeverityHigh, "T1574.006", "launchd_plist", subject, ev))
			}
		}
	}

	profiles := d.ShellProfiles
	if profiles == nil {
		profiles = DefaultShellProfiles
	}
	anomalies = append(anomalies, d.scanShellProfiles(profiles)...)

	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Environ
	}
	for _, kv := range getenv() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !d.isDangerous(key) {
			continue
		}
		subject := model.FilesystemSubject("self", "")
		ev := model.NewEvidence(model.Pair("env_var", fmt.Sprintf("%s=%s", key, val)))
		anomalies = append(anomalies, model.NewFilesystemAnomaly(d.Name(), key+" Injection",
			fmt.Sprintf("scanner process itself carries %s", key),
			model.SeverityHigh, "T1574.006", "os.Environ", subject, ev))
	}

	return anomalies, nil
}

func (d *DYLDInjection) scanShellProfiles(profiles []string) []model.Anomaly {
	home, _ := os.UserHomeDir()
	var anomalies []model.Anomaly
	for _, p := range profiles {
		path := p
		if strings.HasPrefix(p, "~") && home != "" {
			path = home + strings.TrimPrefix(p, "~")
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		lineNo := 0
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			for _, v := range d.DangerousVars {
				if strings.Contains(line, v+"=") || strings.Contains(line, v+" =") {
					subject := model.FilesystemSubject(v, path)
					ev := model.NewEvidence(
						model.Pair("file", path),
						model.Pair("line", fmt.Sprintf("%d", lineNo)),
						model.Pair("content", strings.TrimSpace(line)),
					)
					anomalies = append(anomalies, model.NewFilesystemAnomaly(d.Name(), v+" Injection",
						fmt.Sprintf("%s:%d assigns %s", path, lineNo, v),
						model.SeverityMedium, "T1574.006", "shell_profile_scan", subject, ev))
					break
				}
			}
		}
		f.Close()
	}
	return anomalies
}
