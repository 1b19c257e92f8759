package contradiction

import (
	"context"
	"fmt"
	"os"

	"github.com/outrider-security/sentinel/internal/launchd"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// LaunchDaemonCensus cross-references the on-disk launchd plist set, the
// service manager's live view, and the running-process snapshot.
// Apple-prefixed labels are excluded from every check (spec.md §4.9).
type LaunchDaemonCensus struct {
	ServiceManager platform.ServiceManager
	Directories    []string

	// StatFile is overridable in tests; defaults to os.Stat.
	StatFile func(path string) error
}

func (l *LaunchDaemonCensus) Name() string { return "contradiction.launch_daemon_census" }

func (l *LaunchDaemonCensus) statFile(path string) error {
	if l.StatFile != nil {
		return l.StatFile(path)
	}
	_, err := os.Stat(path)
	return err
}

func (l *LaunchDaemonCensus) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	dirs := l.Directories
	if dirs == nil {
		dirs = launchd.DefaultDirectories
	}
	plists, err := launchd.Discover(dirs)
	if err != nil {
		return nil, fmt.Errorf("contradiction: launch_daemon_census: %w", err)
	}
	plistByLabel := make(map[string]model.LaunchPlistDescriptor, len(plists))
	for _, d := range plists {
		plistByLabel[d.Label] = d
	}

	var services []platform.ServiceEntry
	if l.ServiceManager != nil {
		services, err = l.ServiceManager.List(ctx)
		if err != nil {
			services = nil
		}
	}
	serviceByLabel := make(map[string]platform.ServiceEntry, len(services))
	for _, s := range services {
		serviceByLabel[s.Label] = s
	}

	var anomalies []model.Anomaly

	for _, svc := range services {
		if ctx.Err() != nil {
			return nil, nil
		}
		if launchd.IsApplePrefixed(svc.Label) {
			continue
		}
		desc, hasPlist := plistByLabel[svc.Label]

		if svc.PID > 0 && !hasPlist {
			anomalies = append(anomalies, l.anomaly("Ghost Launch Daemon",
				fmt.Sprintf("service manager reports %s loaded (pid %d) with no plist on disk", svc.Label, svc.PID),
				model.SeverityHigh, svc.PID, "",
				model.Pair("label", svc.Label), model.Pair("pid", fmt.Sprintf("%d", svc.PID))))
			continue
		}

		if svc.PID > 0 && hasPlist && desc.BinaryPath != "" {
			if err := l.statFile(desc.BinaryPath); err != nil {
				anomalies = append(anomalies, l.anomaly("Phantom Launch Daemon",
					fmt.Sprintf("%s is loaded (pid %d) but its declared binary %s is missing", svc.Label, svc.PID, desc.BinaryPath),
					model.SeverityHigh, svc.PID, desc.BinaryPath,
					model.Pair("label", svc.Label),
					model.Pair("plist_path", desc.PlistPath),
					model.Pair("missing_binary", desc.BinaryPath),
					model.Pair("pid", fmt.Sprintf("%d", svc.PID))))
			}
		}
	}

	for _, desc := range plists {
		if ctx.Err() != nil {
			return nil, nil
		}
		if launchd.IsApplePrefixed(desc.Label) || desc.BinaryPath == "" {
			continue
		}
		for _, pid := range snap.PIDs() {
			e, _ := snap.Entry(pid)
			if e.Path != desc.BinaryPath {
				continue
			}
			svc, hasSvc := serviceByLabel[desc.Label]
			if !hasSvc || svc.PID != pid {
				anomalies = append(anomalies, l.anomaly("Shadow Daemon Process",
					fmt.Sprintf("pid %d runs %s (declared by %s) but the service manager shows no matching loaded entry", pid, desc.BinaryPath, desc.Label),
					model.SeverityHigh, pid, desc.BinaryPath,
					model.Pair("label", desc.Label),
					model.Pair("plist_path", desc.PlistPath),
					model.Pair("pid", fmt.Sprintf("%d", pid))))
			}
		}
	}

	return anomalies, nil
}

func (l *LaunchDaemonCensus) anomaly(technique, desc string, sev model.Severity, pid int, path string, evidence ...model.EvidencePair) model.Anomaly {
	subject := model.ProcessSubject(pid, "", path)
	return model.NewProcessAnomaly(l.Name(), technique, desc, sev, "T1543.004", "launchd_plist+service_manager+bsd_snapshot", subject, model.NewEvidence(evidence...))
}
