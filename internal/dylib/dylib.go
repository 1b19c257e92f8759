// Package dylib enumerates the dynamic libraries loaded into a remote
// process, preferring the authoritative dyld image list and falling
// back to a VM-region scan when the remote read path is unavailable.
package dylib

import (
	"context"
	"strings"

	"github.com/outrider-security/sentinel/internal/machtask"
)

// Method names the enumeration strategy that produced a Result, so
// downstream probes can annotate their evidence with how complete the
// image list is.
type Method int

const (
	MethodDyld Method = iota
	MethodVMRegion
)

func (m Method) String() string {
	if m == MethodDyld {
		return "dyld"
	}
	return "vm_region"
}

// Result is the dylib enumerator's output for one pid.
type Result struct {
	Images []string
	Method Method
}

// Enumerate returns the image list for the process behind r, preferring
// the dyld image list; on any failure it falls back to scanning mapped
// VM regions whose path ends in ".dylib" or contains ".framework/". The
// fallback is explicitly partial — it misses dyld shared-cache images
// that have no standalone mapped-file region — so callers must consult
// Result.Method before treating the list as exhaustive.
func Enumerate(ctx context.Context, r *machtask.Reader) Result {
	images, err := r.ReadDyldImageList(ctx)
	if err == nil && len(images) > 0 {
		paths := make([]string, 0, len(images))
		for _, img := range images {
			if img.Path != "" {
				paths = append(paths, img.Path)
			}
		}
		if len(paths) > 0 {
			return Result{Images: paths, Method: MethodDyld}
		}
	}

	regions, err := r.IterateRegions(ctx)
	if err != nil {
		return Result{Method: MethodVMRegion}
	}
	var paths []string
	for _, reg := range regions {
		if reg.Path == "" {
			continue
		}
		if strings.HasSuffix(reg.Path, ".dylib") || strings.Contains(reg.Path, ".framework/") {
			paths = append(paths, reg.Path)
		}
	}
	return Result{Images: dedupe(paths), Method: MethodVMRegion}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
