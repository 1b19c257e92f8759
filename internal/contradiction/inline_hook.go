package contradiction

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/outrider-security/sentinel/internal/dylib"
	"github.com/outrider-security/sentinel/internal/machtask"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

const inlineHookScanBytes = 4096

// ARM64 trampoline encodings (little-endian instruction words).
const (
	ldrX16PC8 = 0x58000050
	brX16     = 0xD61F0200
	ldrX17PC8 = 0x58000071
	brX17     = 0xD61F0220

	adrpMask   = 0x9F000000
	adrpValue  = 0x90000000
	brXnMask   = 0xFFFFFC1F
	brXnValue  = 0xD61F0000
)

// DefaultCriticalLibraries names the dylibs whose text pages are checked
// for inline hooks: the ones most attractive to a userland rootkit
// intercepting syscalls or crypto/auth entry points.
var DefaultCriticalLibraries = []string{
	"libsystem_kernel.dylib",
	"libsystem_malloc.dylib",
	"libobjc.A.dylib",
	"CoreFoundation",
	"Security",
}

// InlineHookScan detects ARM64 LDR/BR and ADRP/BR trampoline patterns
// planted at the start of a critical library's mapped text.
type InlineHookScan struct {
	Opener             platform.TaskPortOpener
	SystemProcessNames []string
	ExemptProcessNames []string
	CriticalLibraries  []string
}

func (s *InlineHookScan) Name() string { return "contradiction.inline_hook_scan" }

func (s *InlineHookScan) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	libs := s.CriticalLibraries
	if libs == nil {
		libs = DefaultCriticalLibraries
	}

	var anomalies []model.Anomaly
	for _, pid := range snap.PIDs() {
		if ctx.Err() != nil {
			return anomalies, nil
		}
		name := snap.Name(pid)
		path := snap.Path(pid)
		if path == "" || containsString(s.SystemProcessNames, name) || containsString(s.ExemptProcessNames, name) {
			continue
		}

		found := s.checkProcess(ctx, pid, name, libs)
		anomalies = append(anomalies, found...)
	}
	return anomalies, nil
}

func (s *InlineHookScan) checkProcess(ctx context.Context, pid int, name string, libs []string) []model.Anomaly {
	var out []model.Anomaly
	_ = machtask.WithReader(ctx, s.Opener, pid, func(r *machtask.Reader) error {
		res := dylib.Enumerate(ctx, r)
		regions, _ := r.IterateRegions(ctx)

		seen := make(map[string]bool)
		for _, imgPath := range res.Images {
			base := filepath.Base(imgPath)
			lib := matchCriticalLibrary(base, libs)
			if lib == "" || seen[lib] {
				continue
			}

			loadAddr, ok := findLoadAddress(regions, imgPath)
			if !ok {
				continue
			}
			window, err := r.Read(ctx, loadAddr, inlineHookScanBytes)
			if err != nil {
				continue
			}
			pattern, hit := scanTrampoline(window, loadAddr, regions)
			if !hit {
				continue
			}
			seen[lib] = true

			subject := model.ProcessSubject(pid, name, "")
			ev := model.NewEvidence(
				model.Pair("hooked_lib", lib),
				model.Pair("pattern", pattern),
			)
			out = append(out, model.NewProcessAnomaly(s.Name(), "Inline Function Hook",
				fmt.Sprintf("%s (pid %d) has a trampoline planted at the start of %s", name, pid, lib),
				model.SeverityCritical, "T1055", "dyld_image_list+mach_vm_read", subject, ev))
		}
		return nil
	})
	return out
}

func matchCriticalLibrary(base string, libs []string) string {
	for _, lib := range libs {
		if base == lib {
			return lib
		}
	}
	return ""
}

func findLoadAddress(regions []model.VMRegion, path string) (uint64, bool) {
	for _, reg := range regions {
		if reg.Path == path {
			return reg.LoadAddress, true
		}
	}
	return 0, false
}

// scanTrampoline walks window at every 4-byte alignment looking for a
// two-instruction trampoline. ADRP-led matches are gated on the
// computed page target landing in a writable region, since the raw
// ADRP mask alone over-matches ordinary function prologues.
func scanTrampoline(window []byte, baseAddr uint64, regions []model.VMRegion) (string, bool) {
	for i := 0; i+8 <= len(window); i += 4 {
		x := binary.LittleEndian.Uint32(window[i : i+4])
		y := binary.LittleEndian.Uint32(window[i+4 : i+8])

		if x == ldrX16PC8 && y == brX16 {
			return "LDR+BR trampoline", true
		}
		if x == ldrX17PC8 && y == brX17 {
			return "LDR+BR trampoline", true
		}
		if x&adrpMask == adrpValue && y&brXnMask == brXnValue {
			target := adrpTarget(baseAddr+uint64(i), x)
			if isWritableAddress(regions, target) {
				return "ADRP+BR trampoline", true
			}
		}
	}
	return "", false
}

// adrpTarget computes the page address an ADRP instruction at instrAddr
// loads, per the ARMv8 ADRP encoding: immhi (bits 23:5) and immlo
// (bits 30:29) concatenate into a 21-bit signed page count.
func adrpTarget(instrAddr uint64, instr uint32) uint64 {
	immlo := (instr >> 29) & 0x3
	immhi := (instr >> 5) & 0x7FFFF
	imm := int64((immhi << 2) | immlo)
	imm = signExtend21(imm)
	pageBase := instrAddr &^ 0xFFF
	return uint64(int64(pageBase) + imm*4096)
}

func signExtend21(v int64) int64 {
	const bits = 21
	shift := 64 - bits
	return (v << shift) >> shift
}

func isWritableAddress(regions []model.VMRegion, addr uint64) bool {
	for _, reg := range regions {
		if addr >= reg.LoadAddress && addr < reg.LoadAddress+reg.Size {
			return reg.Protection&vmProtWrite != 0
		}
	}
	return false
}
