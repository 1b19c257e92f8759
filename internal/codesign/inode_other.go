//go:build !darwin

package codesign

import "os"

func inodeOf(fi os.FileInfo) uint64 {
	return uint64(fi.ModTime().UnixNano())
}
