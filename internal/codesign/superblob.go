// Package codesign validates embedded Mach-O code signatures and queries
// the live kernel code-signing flag word for a running process. Byte
// layout constants are reproduced from the Apple code-signing headers
// (cs_blobs.h); there is no importable Go library for them in the
// retrieval pack.
package codesign

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/outrider-security/sentinel/internal/platform"
)

// SuperBlob/Blob magic numbers (cs_blobs.h).
const (
	csMagicEmbeddedSignature uint32 = 0xfade0cc0
	csMagicCodeDirectory     uint32 = 0xfade0c02
	csMagicEntitlements      uint32 = 0xfade7171
	csMagicBlobWrapper       uint32 = 0xfade0b01 // holds the CMS signature
)

// SuperBlob slot/index types (cs_blobs.h).
const (
	cdCodeDirectorySlot uint32 = 0
	cdEntitlementsSlot  uint32 = 5
	cdSignatureSlot     uint32 = 0x10000
)

type blobIndex struct {
	typ    uint32
	offset uint32
}

// parsedSignature is the superblob decoded to the pieces this validator
// needs.
type parsedSignature struct {
	identifier    string
	teamID        string
	hasSignature  bool // CMS blob present (CSSLOT_SIGNATURESLOT)
	entitlements  map[string]string
	malformed     bool
}

// readSuperBlob reads the LC_CODE_SIGNATURE blob from path at the given
// file-relative offset/size and decodes it.
func readSuperBlob(path string, fileOff int64, size uint32) (*parsedSignature, error) {
	if size == 0 || size > 16*1024*1024 {
		return nil, fmt.Errorf("codesign: %s: implausible signature size %d: %w", path, size, platform.ErrMalformed)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("codesign: open %s: %w", path, platform.ErrNotPresent)
	}
	defer f.Close()

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, fileOff); err != nil {
		return nil, fmt.Errorf("codesign: %s: read signature blob: %w", path, platform.ErrMalformed)
	}
	return decodeSuperBlob(buf)
}

func decodeSuperBlob(buf []byte) (*parsedSignature, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("codesign: superblob too short: %w", platform.ErrMalformed)
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != csMagicEmbeddedSignature {
		return nil, fmt.Errorf("codesign: unexpected superblob magic %#x: %w", magic, platform.ErrMalformed)
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	count := binary.BigEndian.Uint32(buf[8:12])
	if int(length) > len(buf) || count > 64 {
		return nil, fmt.Errorf("codesign: implausible superblob header: %w", platform.ErrMalformed)
	}

	const indexEntrySize = 8
	indexStart := 12
	if indexStart+int(count)*indexEntrySize > len(buf) {
		return nil, fmt.Errorf("codesign: superblob index overruns buffer: %w", platform.ErrMalformed)
	}

	var indices []blobIndex
	for i := uint32(0); i < count; i++ {
		off := indexStart + int(i)*indexEntrySize
		indices = append(indices, blobIndex{
			typ:    binary.BigEndian.Uint32(buf[off : off+4]),
			offset: binary.BigEndian.Uint32(buf[off+4 : off+8]),
		})
	}

	out := &parsedSignature{entitlements: map[string]string{}}
	for _, idx := range indices {
		if int(idx.offset)+8 > len(buf) {
			out.malformed = true
			continue
		}
		blobMagic := binary.BigEndian.Uint32(buf[idx.offset : idx.offset+4])
		blobLen := binary.BigEndian.Uint32(buf[idx.offset+4 : idx.offset+8])
		end := int(idx.offset) + int(blobLen)
		if blobLen < 8 || end > len(buf) {
			out.malformed = true
			continue
		}
		body := buf[idx.offset+8 : end]

		switch idx.typ {
		case cdCodeDirectorySlot:
			if blobMagic != csMagicCodeDirectory {
				out.malformed = true
				continue
			}
			ident, team := decodeCodeDirectory(body)
			out.identifier = ident
			out.teamID = team
		case cdEntitlementsSlot:
			if blobMagic != csMagicEntitlements {
				out.malformed = true
				continue
			}
			out.entitlements = parseEntitlementsPlist(body)
		case cdSignatureSlot:
			if blobMagic != csMagicBlobWrapper {
				out.malformed = true
				continue
			}
			// A present wrapper blob with non-trivial content means the
			// binary carries a CMS signature rather than an ad hoc one.
			out.hasSignature = len(body) > 0
		}
	}
	return out, nil
}

// decodeCodeDirectory extracts the signing identifier and, when present
// (version >= 0x20200), the team identifier.
func decodeCodeDirectory(body []byte) (identifier, teamID string) {
	if len(body) < 44 {
		return "", ""
	}
	version := binary.BigEndian.Uint32(body[0:4])
	identOffset := binary.BigEndian.Uint32(body[12:16])
	identifier = readCString(body, identOffset)

	const supportsTeamID = 0x20200
	if version >= supportsTeamID && len(body) >= 44 {
		teamOffset := binary.BigEndian.Uint32(body[40:44])
		teamID = readCString(body, teamOffset)
	}
	return identifier, teamID
}

func readCString(buf []byte, offset uint32) string {
	if int(offset) >= len(buf) {
		return ""
	}
	rest := buf[offset:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i])
		}
	}
	return ""
}
