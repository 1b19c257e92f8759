package contradiction

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/machtask"
	"github.com/outrider-security/sentinel/internal/macho"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

const hollowingCompareBytes = 64
const anonymousExecRegionMinSize = 4096
const anonymousExecRegionThreshold = 3

const (
	vmProtWrite   = 0x02
	vmProtExecute = 0x04
)

// ProcessHollowing generalizes the binary-integrity check to every
// non-system, non-JIT running process: the first 64 bytes of __TEXT in
// memory must match disk, and a process carrying several large anonymous
// executable regions beyond __TEXT is independently suspicious.
type ProcessHollowing struct {
	Opener             platform.TaskPortOpener
	SystemProcessNames []string
	JITAllowlist       []string
}

func (h *ProcessHollowing) Name() string { return "contradiction.process_hollowing" }

func (h *ProcessHollowing) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	for _, pid := range snap.PIDs() {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		name := snap.Name(pid)
		path := snap.Path(pid)
		if path == "" || containsString(h.SystemProcessNames, name) || containsString(h.JITAllowlist, name) {
			continue
		}

		mi, err := macho.Parse(path)
		if err != nil || !mi.HasTextSeg || !mi.Is64 {
			continue // 32-bit Mach-O is out of scope, matching the source's restriction
		}

		diskBytes, err := readDiskSegment(path, mi.TextSeg.FileOff, hollowingCompareBytes)
		if err != nil {
			continue
		}

		anomalies = append(anomalies, h.checkOne(ctx, pid, name, path, mi.TextSeg.VMAddr, diskBytes)...)
	}
	return anomalies, nil
}

func (h *ProcessHollowing) checkOne(ctx context.Context, pid int, name, path string, staticTextVMAddr uint64, diskBytes []byte) []model.Anomaly {
	var out []model.Anomaly
	runErr := machtask.WithReader(ctx, h.Opener, pid, func(r *machtask.Reader) error {
		slide, err := r.ASLRSlide(ctx, staticTextVMAddr)
		if err != nil {
			return err
		}
		remoteAddr := uint64(int64(staticTextVMAddr) + slide)
		remoteBytes, err := r.Read(ctx, remoteAddr, len(diskBytes))
		if err != nil {
			return err
		}
		if !bytesEqual(remoteBytes, diskBytes) {
			subject := model.ProcessSubject(pid, name, path)
			ev := model.NewEvidence(
				model.Pair("pid", fmt.Sprintf("%d", pid)),
				model.Pair("path", path),
				model.Pair("compared_bytes", fmt.Sprintf("%d", len(diskBytes))),
			)
			out = append(out, model.NewProcessAnomaly(h.Name(), "Process Hollowing",
				fmt.Sprintf("%s (pid %d) __TEXT prologue in memory differs from disk", name, pid),
				model.SeverityCritical, "T1055.012", "task_info(TASK_DYLD_INFO)+mach_vm_read", subject, ev))
		}

		regions, err := r.IterateRegions(ctx)
		if err == nil {
			anon := 0
			for _, reg := range regions {
				if reg.Path != "" {
					continue
				}
				if reg.Protection&vmProtExecute == 0 {
					continue
				}
				if reg.LoadAddress == remoteAddr {
					continue
				}
				if reg.Size >= anonymousExecRegionMinSize {
					anon++
				}
			}
			if anon >= anonymousExecRegionThreshold {
				subject := model.ProcessSubject(pid, name, path)
				ev := model.NewEvidence(
					model.Pair("pid", fmt.Sprintf("%d", pid)),
					model.Pair("path", path),
					model.Pair("anonymous_exec_regions", fmt.Sprintf("%d", anon)),
				)
				out = append(out, model.NewProcessAnomaly(h.Name(), "Suspicious Executable Anonymous Memory",
					fmt.Sprintf("%s (pid %d) has %d anonymous executable regions beyond __TEXT", name, pid, anon),
					model.SeverityHigh, "T1055", "mach_vm_region", subject, ev))
			}
		}
		return nil
	})
	if runErr != nil {
		return nil
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
