package contradiction

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/filehash"
	"github.com/outrider-security/sentinel/internal/machtask"
	"github.com/outrider-security/sentinel/internal/macho"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// maxIntegrityCompareBytes bounds how much of __TEXT is ever hashed for
// comparison; streaming the full segment would work but no legitimate
// tamper-detection needs more than this to catch a patched prologue or an
// injected trampoline table.
const maxIntegrityCompareBytes = 1 << 20

// BinaryIntegrity compares on-disk __TEXT against the same process's live
// __TEXT, read over its Mach task port with the ASLR slide resolved via
// TASK_DYLD_INFO. A task-port translation failure is not itself an
// anomaly — SIP-protected system processes legitimately refuse it.
type BinaryIntegrity struct {
	Opener           platform.TaskPortOpener
	CriticalBinaries []string
}

func (b *BinaryIntegrity) Name() string { return "contradiction.binary_integrity" }

func (b *BinaryIntegrity) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	for _, name := range b.CriticalBinaries {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		for _, pid := range snap.PIDsByName(name) {
			a, ok := b.checkOne(ctx, pid, name, snap.Path(pid))
			if ok {
				anomalies = append(anomalies, a)
			}
		}
	}
	return anomalies, nil
}

func (b *BinaryIntegrity) checkOne(ctx context.Context, pid int, name, path string) (model.Anomaly, bool) {
	if path == "" {
		return model.Anomaly{}, false
	}
	mi, err := macho.Parse(path)
	if err != nil || !mi.HasTextSeg {
		return model.Anomaly{}, false
	}

	compareLen := int(mi.TextSeg.FileSize)
	if compareLen > maxIntegrityCompareBytes {
		compareLen = maxIntegrityCompareBytes
	}
	if compareLen == 0 {
		return model.Anomaly{}, false
	}

	diskBytes, err := readDiskSegment(path, mi.TextSeg.FileOff, compareLen)
	if err != nil {
		return model.Anomaly{}, false
	}
	diskHash := filehash.SHA256Bytes(diskBytes)

	var remoteHash string
	var mismatch bool
	runErr := machtask.WithReader(ctx, b.Opener, pid, func(r *machtask.Reader) error {
		slide, err := r.ASLRSlide(ctx, mi.TextSeg.VMAddr)
		if err != nil {
			return err
		}
		remoteAddr := uint64(int64(mi.TextSeg.VMAddr) + slide)
		remoteBytes, err := r.Read(ctx, remoteAddr, compareLen)
		if err != nil {
			return err
		}
		remoteHash = filehash.SHA256Bytes(remoteBytes)
		mismatch = remoteHash != diskHash
		return nil
	})
	if runErr != nil {
		// Permission/translation failure: protected process, not an anomaly.
		return model.Anomaly{}, false
	}
	if !mismatch {
		return model.Anomaly{}, false
	}

	subject := model.ProcessSubject(pid, name, path)
	ev := model.NewEvidence(
		model.Pair("pid", fmt.Sprintf("%d", pid)),
		model.Pair("path", path),
		model.Pair("disk_sha256", diskHash),
		model.Pair("memory_sha256", remoteHash),
		model.Pair("compared_bytes", fmt.Sprintf("%d", compareLen)),
	)
	return model.NewProcessAnomaly(b.Name(), "Binary Integrity Mismatch",
		fmt.Sprintf("%s (pid %d) __TEXT in memory does not match __TEXT on disk", name, pid),
		model.SeverityCritical, "T1055", "task_info(TASK_DYLD_INFO)+mach_vm_read", subject, ev), true
}
