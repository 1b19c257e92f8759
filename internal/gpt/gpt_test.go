package gpt

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

func newTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return path
}

type fixtureEntry struct {
	typeGUID, uniqueGUID [16]byte
	start, end           uint64
	name                 string
}

func buildImage(sectorSize int, entries []fixtureEntry) []byte {
	const entryCount = 4
	entrySize := rawEntrySize
	entryArrayLBA := uint64(2)

	entryArray := make([]byte, entryCount*entrySize)
	for i, e := range entries {
		off := i * entrySize
		copy(entryArray[off:off+16], e.typeGUID[:])
		copy(entryArray[off+16:off+32], e.uniqueGUID[:])
		binary.LittleEndian.PutUint64(entryArray[off+32:off+40], e.start)
		binary.LittleEndian.PutUint64(entryArray[off+40:off+48], e.end)
		u16 := utf16.Encode([]rune(e.name))
		for j, c := range u16 {
			binary.LittleEndian.PutUint16(entryArray[off+56+j*2:off+56+j*2+2], c)
		}
	}
	entriesCRC := crc32.ChecksumIEEE(entryArray)

	header := make([]byte, sectorSize)
	copy(header[0:8], []byte(headerSignature))
	binary.LittleEndian.PutUint32(header[8:12], 0x00010000)
	binary.LittleEndian.PutUint32(header[12:16], rawHeaderSize)
	// header[16:20] CRC filled below, zeroed during computation
	binary.LittleEndian.PutUint64(header[24:32], 1)
	binary.LittleEndian.PutUint64(header[32:40], 99)
	binary.LittleEndian.PutUint64(header[40:48], 34)
	binary.LittleEndian.PutUint64(header[48:56], 98)
	binary.LittleEndian.PutUint64(header[72:80], entryArrayLBA)
	binary.LittleEndian.PutUint32(header[80:84], entryCount)
	binary.LittleEndian.PutUint32(header[84:88], uint32(entrySize))
	binary.LittleEndian.PutUint32(header[88:92], entriesCRC)

	hcrc := headerCRC(header[:rawHeaderSize])
	binary.LittleEndian.PutUint32(header[16:20], hcrc)

	total := int(entryArrayLBA)*sectorSize + len(entryArray)
	image := make([]byte, total)
	copy(image[sectorSize:], header)
	copy(image[int(entryArrayLBA)*sectorSize:], entryArray)
	return image
}

func fourEntries() []fixtureEntry {
	return []fixtureEntry{
		{typeGUID: [16]byte{1}, uniqueGUID: [16]byte{0xaa}, start: 40, end: 1000, name: "EFI System"},
		{typeGUID: [16]byte{2}, uniqueGUID: [16]byte{0xbb}, start: 1001, end: 2000, name: "Macintosh HD"},
		{typeGUID: [16]byte{3}, uniqueGUID: [16]byte{0xcc}, start: 2001, end: 3000, name: "Recovery"},
		{typeGUID: [16]byte{4}, uniqueGUID: [16]byte{0xdd}, start: 3001, end: 4000, name: "Preboot"},
	}
}

func TestParseValidGPTImage(t *testing.T) {
	image := buildImage(512, fourEntries())
	table, err := Parse(bytes.NewReader(image), 512)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !table.Header.HeaderCRCValid {
		t.Error("expected valid header CRC")
	}
	if !table.Header.EntriesCRCValid {
		t.Error("expected valid entries CRC")
	}
	if len(table.Entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(table.Entries))
	}
	if table.Entries[1].Name != "Macintosh HD" {
		t.Errorf("Entries[1].Name = %q", table.Entries[1].Name)
	}
}

func TestParseEntryArrayCRCMismatch(t *testing.T) {
	image := buildImage(512, fourEntries())
	entryArrayOff := 2 * 512
	image[entryArrayOff+56] ^= 0xFF // corrupt a name byte inside the entry array, after CRC was stamped

	table, err := Parse(bytes.NewReader(image), 512)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !table.Header.HeaderCRCValid {
		t.Error("header CRC should remain valid; only the entry array was mutated")
	}
	if table.Header.EntriesCRCValid {
		t.Error("expected entry array CRC mismatch after corruption")
	}
}

func TestParseBadSignature(t *testing.T) {
	image := buildImage(512, fourEntries())
	copy(image[512:520], []byte("GARBAGE!"))
	if _, err := Parse(bytes.NewReader(image), 512); err == nil {
		t.Fatal("expected error for bad GPT signature")
	}
}

func TestGUIDStringFormat(t *testing.T) {
	g := [16]byte{0x78, 0x56, 0x34, 0x12, 0xbc, 0x9a, 0xf0, 0xde, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	want := "12345678-9ABC-DEF0-0102-030405060708"
	if got := GUIDString(g); got != want {
		t.Errorf("GUIDString = %q, want %q", got, want)
	}
}

func TestProbeFallsBackTo512(t *testing.T) {
	// Built only at 512-byte sector granularity; reading at offset 4096
	// lands past the header entirely and must fail, forcing the 512
	// fallback.
	image := buildImage(512, fourEntries())
	if len(image) <= 4096 {
		padded := make([]byte, 8192)
		copy(padded, image)
		image = padded
	}

	f := newTempFile(t, image)
	table, err := Probe(f)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if table.SectorSize != 512 {
		t.Errorf("SectorSize = %d, want 512 fallback", table.SectorSize)
	}
}
