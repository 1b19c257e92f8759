// Package filehash streams SHA-256 digests of files and runs read-only
// queries over small local SQLite databases (TCC.db, browser Cookies /
// Login Data stores) that the credential-access and persistence probes
// inspect.
package filehash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/outrider-security/sentinel/internal/platform"
)

// SHA256 streams path through crypto/sha256 and returns the lowercase
// hex digest, without loading the whole file into memory.
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("filehash: open %s: %w", path, platform.ErrNotPresent)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("filehash: read %s: %w", path, platform.ErrTransient)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256Bytes hashes an in-memory buffer, used where the segment bytes
// were already read (disk __TEXT vs remote __TEXT comparison).
func SHA256Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
