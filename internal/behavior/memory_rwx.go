package behavior

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/machtask"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

const (
	memProtWrite   = 0x02
	memProtExecute = 0x04
)

const memoryRWXThreadThreshold = 100

// MemoryRWX flags any non-system, non-JIT-allowlisted process carrying an
// anonymous (not file-backed) write+execute VM region (a writable code page
// outside its own __TEXT segment), and separately flags unusually high
// thread counts.
type MemoryRWX struct {
	Opener             platform.TaskPortOpener
	ThreadLister       platform.ThreadLister
	SystemProcessNames []string
	JITAllowlist       []string
}

func (m *MemoryRWX) Name() string { return "behavior.memory_rwx_probe" }

func (m *MemoryRWX) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	for _, pid := range snap.PIDs() {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		name := snap.Name(pid)
		path := snap.Path(pid)
		if containsString(m.SystemProcessNames, name) || containsString(m.JITAllowlist, name) {
			continue
		}

		runErr := machtask.WithReader(ctx, m.Opener, pid, func(r *machtask.Reader) error {
			regions, err := r.IterateRegions(ctx)
			if err != nil {
				return err
			}
			rwxCount := 0
			for _, reg := range regions {
				if reg.Protection&memProtWrite == 0 || reg.Protection&memProtExecute == 0 {
					continue
				}
				if reg.Path != "" {
					// mapped-file region; __TEXT and friends are excluded.
					continue
				}
				rwxCount++
			}
			if rwxCount > 0 {
				subject := model.ProcessSubject(pid, name, path)
				ev := model.NewEvidence(
					model.Pair("pid", fmt.Sprintf("%d", pid)),
					model.Pair("rwx_region_count", fmt.Sprintf("%d", rwxCount)),
				)
				anomalies = append(anomalies, model.NewProcessAnomaly(m.Name(), "Writable Executable Memory",
					fmt.Sprintf("%s (pid %d) carries %d write+execute region(s) outside __TEXT", name, pid, rwxCount),
					model.SeverityHigh, "T1055", "mach_vm_region", subject, ev))
			}
			return nil
		})
		_ = runErr // task-port acquisition failure is not itself an anomaly

		if m.ThreadLister == nil {
			continue
		}
		count, err := m.ThreadLister.ThreadCount(ctx, pid)
		if err != nil {
			continue
		}
		if count > memoryRWXThreadThreshold {
			subject := model.ProcessSubject(pid, name, path)
			ev := model.NewEvidence(
				model.Pair("pid", fmt.Sprintf("%d", pid)),
				model.Pair("thread_count", fmt.Sprintf("%d", count)),
			)
			anomalies = append(anomalies, model.NewProcessAnomaly(m.Name(), "Excessive Thread Count",
				fmt.Sprintf("%s (pid %d) has %d threads", name, pid, count),
				model.SeverityMedium, "T1055", "proc_pidinfo(PROC_PIDTASKINFO)", subject, ev))
		}
	}
	return anomalies, nil
}
