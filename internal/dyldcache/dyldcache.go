// Package dyldcache parses the on-disk dyld shared cache header far enough
// to recover its signature and embedded UUID, without mapping or
// interpreting the rest of the cache image.
package dyldcache

import (
	"bytes"
	"fmt"
	"os"

	"github.com/outrider-security/sentinel/internal/platform"
)

const signaturePrefix = "dyld_v1"

// uuidOffset is the byte offset of the 16-byte cache UUID within the
// dyld_cache_header structure, immediately following the signature and
// architecture-name fields (spec: "dyld_v1" + arch name, UUID at 0x58).
const uuidOffset = 0x58
const uuidSize = 16
const headerReadSize = uuidOffset + uuidSize

// DefaultLocations lists the paths the dyld shared cache is found at on a
// modern macOS install: the legacy single-file location and the
// cryptex-mounted location introduced with the signed system volume.
var DefaultLocations = []string{
	"/System/Library/dyld/dyld_shared_cache_arm64e",
	"/System/Volumes/Preboot/Cryptexes/OS/System/Library/dyld/dyld_shared_cache_arm64e",
}

// Header is the subset of the dyld shared cache header this module reads.
type Header struct {
	Signature string
	UUID      [16]byte
}

// ParseHeader reads and validates the signature and UUID from the cache
// file at path.
func ParseHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("dyldcache: open %s: %w", path, platform.ErrNotPresent)
	}
	defer f.Close()

	buf := make([]byte, headerReadSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Header{}, fmt.Errorf("dyldcache: read header %s: %w", path, platform.ErrTransient)
	}

	sig := bytes.TrimRight(buf[0:16], "\x00")
	if !bytes.HasPrefix(sig, []byte(signaturePrefix)) {
		return Header{}, fmt.Errorf("dyldcache: bad signature in %s: %w", path, platform.ErrMalformed)
	}

	var hdr Header
	hdr.Signature = string(sig)
	copy(hdr.UUID[:], buf[uuidOffset:uuidOffset+uuidSize])
	return hdr, nil
}

// Discover returns the header of the first readable cache file among
// locations, in order (legacy before cryptex).
func Discover(locations []string) (path string, hdr Header, err error) {
	for _, loc := range locations {
		hdr, err = ParseHeader(loc)
		if err == nil {
			return loc, hdr, nil
		}
	}
	return "", Header{}, fmt.Errorf("dyldcache: no cache file found in %v: %w", locations, platform.ErrNotPresent)
}
