// Package gpt parses GUID Partition Table headers and entry arrays from a
// raw block device or disk image, verifying both stored CRC32 checksums
// the way the on-disk format defines them.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"unicode/utf16"

	"github.com/outrider-security/sentinel/internal/platform"
)

const headerSignature = "EFI PART"

// Header is a decoded GPT header, byte-offsets per the UEFI spec.
type Header struct {
	Signature        string
	Revision         uint32
	HeaderSize       uint32
	StoredHeaderCRC  uint32
	ComputedHeaderCRC uint32
	HeaderCRCValid   bool
	MyLBA            uint64
	AlternateLBA     uint64
	FirstUsableLBA   uint64
	LastUsableLBA    uint64
	DiskGUID         [16]byte
	EntriesLBA       uint64
	EntryCount       uint32
	EntrySize        uint32
	StoredEntriesCRC uint32
	ComputedEntriesCRC uint32
	EntriesCRCValid  bool
}

// Entry is a single GPT partition entry.
type Entry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       string
}

// Table is the fully parsed GPT: header plus decoded non-empty entries.
type Table struct {
	Header     Header
	Entries    []Entry
	SectorSize int
}

// init size assertions: the raw GPT header is 92 bytes before reserved
// padding to the sector size; the entry record is fixed at 128 bytes for
// the standard EntrySize GPT uses everywhere in practice.
const (
	rawHeaderSize = 92
	rawEntrySize  = 128
)

// Parse reads the GPT from r at the given logical sector size (4096 or
// 512; the caller probes which one applies — see Probe). r must support
// ReadAt at absolute byte offsets (an *os.File opened on the raw device,
// or an in-memory image in tests).
func Parse(r io.ReaderAt, sectorSize int) (*Table, error) {
	headerBuf := make([]byte, sectorSize)
	if _, err := r.ReadAt(headerBuf, int64(sectorSize)); err != nil {
		return nil, fmt.Errorf("gpt: read header at LBA 1: %w", platform.ErrTransient)
	}

	if !bytes.Equal(headerBuf[0:8], []byte(headerSignature)) {
		return nil, fmt.Errorf("gpt: bad signature: %w", platform.ErrMalformed)
	}

	hdr := Header{
		Signature:        string(headerBuf[0:8]),
		Revision:         binary.LittleEndian.Uint32(headerBuf[8:12]),
		HeaderSize:       binary.LittleEndian.Uint32(headerBuf[12:16]),
		StoredHeaderCRC:  binary.LittleEndian.Uint32(headerBuf[16:20]),
		MyLBA:            binary.LittleEndian.Uint64(headerBuf[24:32]),
		AlternateLBA:     binary.LittleEndian.Uint64(headerBuf[32:40]),
		FirstUsableLBA:   binary.LittleEndian.Uint64(headerBuf[40:48]),
		LastUsableLBA:    binary.LittleEndian.Uint64(headerBuf[48:56]),
		EntriesLBA:       binary.LittleEndian.Uint64(headerBuf[72:80]),
		EntryCount:       binary.LittleEndian.Uint32(headerBuf[80:84]),
		EntrySize:        binary.LittleEndian.Uint32(headerBuf[84:88]),
		StoredEntriesCRC: binary.LittleEndian.Uint32(headerBuf[88:92]),
	}
	copy(hdr.DiskGUID[:], headerBuf[56:72])

	if hdr.HeaderSize < rawHeaderSize || int(hdr.HeaderSize) > sectorSize {
		return nil, fmt.Errorf("gpt: implausible header size %d: %w", hdr.HeaderSize, platform.ErrMalformed)
	}

	hdr.ComputedHeaderCRC = headerCRC(headerBuf[:hdr.HeaderSize])
	hdr.HeaderCRCValid = hdr.ComputedHeaderCRC == hdr.StoredHeaderCRC

	if hdr.EntrySize < rawEntrySize {
		return nil, fmt.Errorf("gpt: implausible entry size %d: %w", hdr.EntrySize, platform.ErrMalformed)
	}

	entryArrayBytes := int64(hdr.EntryCount) * int64(hdr.EntrySize)
	if hdr.EntryCount == 0 || entryArrayBytes > 4<<20 {
		return nil, fmt.Errorf("gpt: implausible entry array size: %w", platform.ErrMalformed)
	}

	entryBuf := make([]byte, entryArrayBytes)
	if _, err := r.ReadAt(entryBuf, int64(hdr.EntriesLBA)*int64(sectorSize)); err != nil {
		return nil, fmt.Errorf("gpt: read entry array: %w", platform.ErrTransient)
	}

	hdr.ComputedEntriesCRC = crc32.ChecksumIEEE(entryBuf)
	hdr.EntriesCRCValid = hdr.ComputedEntriesCRC == hdr.StoredEntriesCRC

	var entries []Entry
	for i := uint32(0); i < hdr.EntryCount; i++ {
		off := int64(i) * int64(hdr.EntrySize)
		raw := entryBuf[off : off+rawEntrySize]
		if isZeroGUID(raw[0:16]) {
			continue
		}
		var e Entry
		copy(e.TypeGUID[:], raw[0:16])
		copy(e.UniqueGUID[:], raw[16:32])
		e.StartLBA = binary.LittleEndian.Uint64(raw[32:40])
		e.EndLBA = binary.LittleEndian.Uint64(raw[40:48])
		e.Attributes = binary.LittleEndian.Uint64(raw[48:56])
		e.Name = decodeUTF16Name(raw[56:128])
		entries = append(entries, e)
	}

	return &Table{Header: hdr, Entries: entries, SectorSize: sectorSize}, nil
}

// Probe tries 4096-byte sectors first (Apple Fusion/SSD-native default),
// falling back to 512 when the larger sector size does not yield a valid
// "EFI PART" signature. Resolves Open Question #2: the sector size is
// never hardcoded.
func Probe(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gpt: open %s: %w", path, platform.ErrPermission)
	}
	defer f.Close()

	if t, err := Parse(f, 4096); err == nil {
		return t, nil
	}
	t, err := Parse(f, 512)
	if err != nil {
		return nil, fmt.Errorf("gpt: neither 4096 nor 512-byte sector size produced a valid header: %w", err)
	}
	return t, nil
}

func headerCRC(raw []byte) uint32 {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	for i := 16; i < 20; i++ {
		buf[i] = 0
	}
	return crc32.ChecksumIEEE(buf)
}

func isZeroGUID(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func decodeUTF16Name(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	n := 0
	for n < len(u16) && u16[n] != 0 {
		n++
	}
	return string(utf16.Decode(u16[:n]))
}

// GUIDString renders a 16-byte GPT GUID in the standard mixed-endian
// hyphenated form (the first three fields are little-endian, the last two
// big-endian), matching how disk-arbitration services report partition
// UUIDs.
func GUIDString(g [16]byte) string {
	return fmt.Sprintf("%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8], g[9], g[10], g[11], g[12], g[13], g[14], g[15])
}
