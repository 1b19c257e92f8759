package behavior

import "strings"

var systemPathPrefixes = []string{
	"/System/", "/usr/", "/sbin/", "/bin/", "/Library/Apple/",
}

// isSystemPath reports whether path sits under a system-owned directory,
// used to bump severity for findings that touch trusted binaries.
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

func containsSubstring(list []string, s string) bool {
	for _, v := range list {
		if strings.Contains(s, v) {
			return true
		}
	}
	return false
}

func expandHome(path, home string) string {
	if home != "" && strings.HasPrefix(path, "~") {
		return home + strings.TrimPrefix(path, "~")
	}
	return path
}
