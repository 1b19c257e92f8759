package behavior

import (
	"context"
	"fmt"
	"strings"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// LOLBinAbuse matches every process's argument line against a table of
// argument substrings keyed by the living-off-the-land binary's basename:
// xattr quarantine-flag removal, sqlite3 against browser/TCC databases,
// security dumping keychain secrets.
type LOLBinAbuse struct {
	ProcessArgs platform.ProcessArgs
	Patterns    map[string][]string
}

func (l *LOLBinAbuse) Name() string { return "behavior.lolbin_abuse" }

func (l *LOLBinAbuse) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	if l.ProcessArgs == nil {
		return nil, nil
	}
	var anomalies []model.Anomaly
	for _, pid := range snap.PIDs() {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		name := snap.Name(pid)
		patterns, ok := l.Patterns[name]
		if !ok {
			continue
		}
		argv, _, err := l.ProcessArgs.Args(ctx, pid)
		if err != nil {
			continue
		}
		joined := strings.Join(argv, " ")
		for _, pat := range patterns {
			if !strings.Contains(joined, pat) {
				continue
			}
			subject := model.ProcessSubject(pid, name, snap.Path(pid))
			ev := model.NewEvidence(
				model.Pair("pid", fmt.Sprintf("%d", pid)),
				model.Pair("binary", name),
				model.Pair("pattern", pat),
				model.Pair("argv", joined),
			)
			anomalies = append(anomalies, model.NewProcessAnomaly(l.Name(), "LOLBin Abuse",
				fmt.Sprintf("pid %d (%s) matched LOLBin pattern %q", pid, name, pat),
				model.SeverityHigh, "T1218", "kern_procargs2", subject, ev))
			break
		}
	}
	return anomalies, nil
}
