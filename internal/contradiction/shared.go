// Package contradiction implements the cross-source contradiction probes:
// each compares two or more authoritative views of the same truth and
// emits an anomaly wherever they disagree.
package contradiction

import (
	"fmt"
	"os"
	"strings"

	"github.com/outrider-security/sentinel/internal/platform"
)

// readDiskSegment reads up to n bytes starting at byte offset off in the
// file at path, without loading the whole file.
func readDiskSegment(path string, off uint64, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contradiction: open %s: %w", path, platform.ErrPermission)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, int64(off))
	if err != nil && read == 0 {
		return nil, fmt.Errorf("contradiction: read %s at %#x: %w", path, off, platform.ErrTransient)
	}
	return buf[:read], nil
}

var systemPathPrefixes = []string{
	"/System/", "/usr/", "/sbin/", "/bin/", "/Library/Apple/",
}

// isSystemPath reports whether path sits under a system-owned directory,
// used to bump severity for otherwise-ordinary findings (DYLD injection
// into a system binary, etc).
func isSystemPath(path string) bool {
	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
