package behavior

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outrider-security/sentinel/internal/codesign"
	"github.com/outrider-security/sentinel/internal/filehash"
	"github.com/outrider-security/sentinel/internal/launchd"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// PersistenceFactor is one weighted signal contributing to an item's
// composite persistence-risk score. Negative weights describe benign
// context, positive weights describe risk, following the same weighted
// composite pattern as the severity formula S = w1*A + w2*Q + w3*I + w4*P.
type PersistenceFactor struct {
	Name   string
	Weight float64
}

// PersistenceItem is one location capable of surviving reboot/relogin.
type PersistenceItem struct {
	Category string // "launchd", "login_item", "kext", "auth_plugin", "periodic", "shell_profile", "cron", "login_hook", "app_environment"
	Path     string
	Identifier string
	Factors  []PersistenceFactor
	Baseline bool
}

// Score sums every factor's weight.
func (p PersistenceItem) Score() float64 {
	var s float64
	for _, f := range p.Factors {
		s += f.Weight
	}
	return s
}

// PersistenceThresholds classifies a composite score into a severity,
// evaluated highest-first like escalation.TargetState.
type PersistenceThresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// DefaultPersistenceThresholds returns the scan's default score cutoffs.
func DefaultPersistenceThresholds() PersistenceThresholds {
	return PersistenceThresholds{Medium: 1.0, High: 2.5, Critical: 4.0}
}

func (t PersistenceThresholds) classify(score float64) model.Severity {
	switch {
	case score >= t.Critical:
		return model.SeverityCritical
	case score >= t.High:
		return model.SeverityHigh
	case score >= t.Medium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

var dangerousShellPatterns = []struct {
	pattern string
	reason  string
}{
	{"curl ", "pipes remote content into a shell"},
	{"| sh", "pipes remote content into a shell"},
	{"base64 -d", "base64-decodes inline content before execution"},
	{"| bash", "pipes decoded content into bash"},
	{"/dev/tcp/", "reverse-shell redirection pattern"},
	{"alias sudo=", "shadows the sudo command"},
	{"alias ssh=", "shadows the ssh command"},
}

func analyzeShellContent(content string) []PersistenceFactor {
	var factors []PersistenceFactor
	for _, dp := range dangerousShellPatterns {
		if strings.Contains(content, dp.pattern) {
			factors = append(factors, PersistenceFactor{Name: dp.reason, Weight: 1.5})
		}
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "PATH=") || strings.HasPrefix(trimmed, "export PATH=") {
			if strings.Contains(trimmed, "/tmp") || strings.Contains(trimmed, "/.") {
				factors = append(factors, PersistenceFactor{Name: "PATH prepended with temp/hidden directory", Weight: 1.5})
			}
		}
	}
	return factors
}

// PersistenceScan enumerates every persistence location named in spec:
// launch daemons/agents, login items, kernel extensions, authorization
// plugins, periodic scripts, shell profiles, cron tables, login hooks, and
// DYLD-insert variables in application Info.plist LSEnvironment. Every
// item surfaces, baseline-tagged or not; the baseline allow-list only
// downgrades, never suppresses.
type PersistenceScan struct {
	LaunchDirs       []string
	ShellProfiles    []string
	CronDirs         []string
	PeriodicDirs     []string
	AuthPluginDirs   []string
	AppDirs          []string
	LoginHookPlist   string
	KextLister       platform.KextLister
	Validator        *codesign.Validator
	Baseline         []string
	Thresholds       PersistenceThresholds
}

func (p *PersistenceScan) Name() string { return "behavior.persistence_scan" }

func (p *PersistenceScan) thresholds() PersistenceThresholds {
	if p.Thresholds == (PersistenceThresholds{}) {
		return DefaultPersistenceThresholds()
	}
	return p.Thresholds
}

func (p *PersistenceScan) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	items := p.Enumerate(ctx)
	var anomalies []model.Anomaly
	t := p.thresholds()
	for _, item := range items {
		score := item.Score()
		sev := t.classify(score)
		var reasons []string
		for _, f := range item.Factors {
			reasons = append(reasons, fmt.Sprintf("%s(%.1f)", f.Name, f.Weight))
		}
		subject := model.FilesystemSubject(item.Identifier, item.Path)
		ev := model.NewEvidence(
			model.Pair("category", item.Category),
			model.Pair("score", fmt.Sprintf("%.1f", score)),
			model.Pair("factors", strings.Join(reasons, ", ")),
			model.Pair("baseline", fmt.Sprintf("%t", item.Baseline)),
		)
		anomalies = append(anomalies, model.NewFilesystemAnomaly(p.Name(), "Persistence Mechanism",
			fmt.Sprintf("%s item %s scored %.1f", item.Category, item.Path, score),
			sev, "T1547", "persistence_enumeration", subject, ev))
	}
	return anomalies, nil
}

// Enumerate walks every persistence location and scores it, independent of
// anomaly emission, so PersistenceMonitor can snapshot/diff the same set.
func (p *PersistenceScan) Enumerate(ctx context.Context) []PersistenceItem {
	var items []PersistenceItem

	dirs := p.LaunchDirs
	if dirs == nil {
		dirs = launchd.DefaultDirectories
	}
	if descs, err := launchd.Discover(dirs); err == nil {
		for _, d := range descs {
			var factors []PersistenceFactor
			factors = append(factors, PersistenceFactor{Name: "launchd item", Weight: 0.5})
			if p.Validator != nil && d.BinaryPath != "" {
				if info, err := p.Validator.Validate(d.BinaryPath); err != nil || info.Status == model.SigningUnsigned {
					factors = append(factors, PersistenceFactor{Name: "unsigned target binary", Weight: 2.0})
				} else if info.IsApplePlatformBinary {
					factors = append(factors, PersistenceFactor{Name: "Apple-signed target binary", Weight: -1.5})
				}
			}
			items = append(items, p.tag(PersistenceItem{Category: "launchd", Path: d.PlistPath, Identifier: d.Label, Factors: factors}))
		}
	}

	if p.KextLister != nil {
		if entries, err := p.KextLister.List(ctx); err == nil {
			for _, e := range entries {
				if !e.Loaded {
					continue
				}
				factors := []PersistenceFactor{{Name: "loaded kernel extension", Weight: 1.0}}
				if strings.HasPrefix(e.BundleID, "com.apple.") {
					factors = append(factors, PersistenceFactor{Name: "Apple bundle identifier", Weight: -1.0})
				}
				items = append(items, p.tag(PersistenceItem{Category: "kext", Path: e.BundleID, Identifier: e.BundleID, Factors: factors}))
			}
		}
	}

	for _, dir := range valueOr(p.AuthPluginDirs, []string{"/Library/Security/SecurityAgentPlugins"}) {
		items = append(items, p.walkBundles(dir, "auth_plugin", 1.0)...)
	}
	for _, dir := range valueOr(p.PeriodicDirs, []string{"/etc/periodic/daily", "/etc/periodic/weekly", "/etc/periodic/monthly"}) {
		items = append(items, p.walkScripts(dir, "periodic")...)
	}
	for _, dir := range valueOr(p.CronDirs, []string{"/usr/lib/cron/tabs", "/var/at/tabs"}) {
		items = append(items, p.walkScripts(dir, "cron")...)
	}

	profiles := p.ShellProfiles
	if profiles == nil {
		profiles = DefaultShellProfiles
	}
	for _, profile := range profiles {
		path := profile
		home, _ := os.UserHomeDir()
		path = expandHome(path, home)
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		factors := append([]PersistenceFactor{{Name: "shell profile", Weight: 0.25}}, analyzeShellContent(string(content))...)
		items = append(items, p.tag(PersistenceItem{Category: "shell_profile", Path: path, Identifier: filepath.Base(path), Factors: factors}))
	}

	if p.LoginHookPlist != "" {
		if dict, err := launchd.ParsePlistFile(p.LoginHookPlist); err == nil {
			if hook, ok := launchd.StringField(dict, "LoginHook"); ok && hook != "" {
				items = append(items, p.tag(PersistenceItem{Category: "login_hook", Path: hook, Identifier: "LoginHook",
					Factors: []PersistenceFactor{{Name: "login hook configured", Weight: 1.5}}}))
			}
		}
	}

	for _, dir := range valueOr(p.AppDirs, []string{"/Applications"}) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), ".app") {
				continue
			}
			infoPlist := filepath.Join(dir, e.Name(), "Contents", "Info.plist")
			dict, err := launchd.ParsePlistFile(infoPlist)
			if err != nil {
				continue
			}
			env := launchd.StringDictField(dict, "LSEnvironment")
			for key, val := range env {
				if !strings.HasPrefix(key, "DYLD_") {
					continue
				}
				items = append(items, p.tag(PersistenceItem{Category: "app_environment", Path: infoPlist, Identifier: e.Name(),
					Factors: []PersistenceFactor{{Name: fmt.Sprintf("LSEnvironment sets %s=%s", key, val), Weight: 3.0}}}))
			}
		}
	}

	return items
}

func (p *PersistenceScan) tag(item PersistenceItem) PersistenceItem {
	if containsString(p.Baseline, item.Identifier) || containsString(p.Baseline, item.Path) {
		item.Baseline = true
		item.Factors = append(item.Factors, PersistenceFactor{Name: "baseline allow-listed", Weight: -0.5})
	}
	return item
}

func (p *PersistenceScan) walkBundles(dir, category string, weight float64) []PersistenceItem {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var items []PersistenceItem
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		items = append(items, p.tag(PersistenceItem{Category: category, Path: path, Identifier: e.Name(),
			Factors: []PersistenceFactor{{Name: category + " bundle present", Weight: weight}}}))
	}
	return items
}

func (p *PersistenceScan) walkScripts(dir, category string) []PersistenceItem {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var items []PersistenceItem
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		factors := []PersistenceFactor{{Name: category + " entry", Weight: 0.5}}
		if err == nil {
			factors = append(factors, analyzeShellContent(string(content))...)
		}
		items = append(items, p.tag(PersistenceItem{Category: category, Path: path, Identifier: e.Name(), Factors: factors}))
	}
	return items
}

func valueOr(v, fallback []string) []string {
	if v != nil {
		return v
	}
	return fallback
}

// PersistenceMonitor tracks a SHA-256 digest per persistence item path
// across scans, so a diff reports created/modified/deleted using content
// hash rather than mtime, ignoring touch-only changes.
type PersistenceMonitor struct {
	hashes map[string]string
}

// PersistenceDiff reports the delta between two snapshots.
type PersistenceDiff struct {
	Created  []string
	Modified []string
	Deleted  []string
}

// TakeSnapshot hashes every enumerated item's path and returns the digest
// map; paths that cannot be read (bundle identifiers, hook targets that
// are not plain files) are skipped.
func TakeSnapshot(items []PersistenceItem) map[string]string {
	snap := make(map[string]string, len(items))
	for _, item := range items {
		sum, err := filehash.SHA256(item.Path)
		if err != nil {
			continue
		}
		snap[item.Path] = sum
	}
	return snap
}

// DiffAgainstSnapshot compares a freshly taken snapshot against a
// previously captured one.
func DiffAgainstSnapshot(previous, current map[string]string) PersistenceDiff {
	var diff PersistenceDiff
	for path, sum := range current {
		prevSum, existed := previous[path]
		if !existed {
			diff.Created = append(diff.Created, path)
		} else if prevSum != sum {
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			diff.Deleted = append(diff.Deleted, path)
		}
	}
	return diff
}
