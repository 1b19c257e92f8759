package macho

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
)

// loadCmdHeaderSize is sizeof(struct load_command): two uint32s.
const loadCmdHeaderSize = 8

// machHeader64Size is sizeof(struct mach_header_64).
const machHeader64Size = 32

// fatHeaderSize is sizeof(struct fat_header).
const fatHeaderSize = 8

// fatArchSize is sizeof(struct fat_arch).
const fatArchSize = 20

// Parse reads path and returns the structured info for the architecture
// slice matching the current host, or platform.ErrNotPresent /
// platform.ErrMalformed. The caller distinguishes "not a Mach-O at all"
// (ErrNotPresent-wrapped "none") from a genuinely truncated/malformed one
// (ErrMalformed) so a probe can choose whether to treat it as an anomaly.
func Parse(path string) (*model.MachOInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("macho: open %s: %w", path, platform.ErrNotPresent)
	}
	defer f.Close()

	var magicBuf [4]byte
	if _, err := f.Read(magicBuf[:]); err != nil {
		return nil, fmt.Errorf("macho: %s: %w", path, platform.ErrMalformed)
	}
	magic := binary.BigEndian.Uint32(magicBuf[:])

	switch magic {
	case MagicFat32, MagicFat32Cigam:
		return parseFat(f, path)
	case Magic64, Magic64Cigam, Magic32, Magic32Cigam:
		if _, err := f.Seek(0, 0); err != nil {
			return nil, fmt.Errorf("macho: %s: %w", path, platform.ErrMalformed)
		}
		return parseThin(f, path)
	default:
		return nil, fmt.Errorf("macho: %s: not a Mach-O: %w", path, platform.ErrNotPresent)
	}
}

// fatArchEntry is the decoded form of struct fat_arch (always big-endian
// on disk, regardless of host byte order).
type fatArchEntry struct {
	cpuType    uint32
	cpuSubtype uint32
	offset     uint32
	size       uint32
}

func parseFat(f *os.File, path string) (*model.MachOInfo, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("macho: %s: %w", path, platform.ErrMalformed)
	}
	hdr := make([]byte, fatHeaderSize)
	if _, err := readFull(f, hdr); err != nil {
		return nil, fmt.Errorf("macho: %s fat header: %w", path, platform.ErrMalformed)
	}
	nArch := binary.BigEndian.Uint32(hdr[4:8])
	if nArch == 0 || nArch > 32 {
		return nil, fmt.Errorf("macho: %s: implausible fat arch count %d: %w", path, nArch, platform.ErrMalformed)
	}

	archBuf := make([]byte, fatArchSize*int(nArch))
	if _, err := readFull(f, archBuf); err != nil {
		return nil, fmt.Errorf("macho: %s fat arch table: %w", path, platform.ErrMalformed)
	}

	var archs []fatArchEntry
	for i := 0; i < int(nArch); i++ {
		rec := archBuf[i*fatArchSize : (i+1)*fatArchSize]
		archs = append(archs, fatArchEntry{
			cpuType:    binary.BigEndian.Uint32(rec[0:4]),
			cpuSubtype: binary.BigEndian.Uint32(rec[4:8]),
			offset:     binary.BigEndian.Uint32(rec[8:12]),
			size:       binary.BigEndian.Uint32(rec[12:16]),
		})
	}

	chosen, ok := selectArchitecture(archs)
	if !ok {
		return nil, fmt.Errorf("macho: %s: no matching architecture slice: %w", path, platform.ErrNotPresent)
	}

	if _, err := f.Seek(int64(chosen.offset), 0); err != nil {
		return nil, fmt.Errorf("macho: %s: slice offset: %w", path, platform.ErrMalformed)
	}
	info, err := parseThin(f, path)
	if err != nil {
		return nil, err
	}
	info.SliceFileOffset = int64(chosen.offset)
	return info, nil
}

// selectArchitecture implements the documented policy: prefer arm64e, then
// arm64, then x86_64h, then x86_64.
func selectArchitecture(archs []fatArchEntry) (fatArchEntry, bool) {
	rank := func(a fatArchEntry) int {
		subtype := a.cpuSubtype & cpuSubtypeMask
		switch {
		case a.cpuType == CPUTypeARM64 && subtype == CPUSubtypeARM64E:
			return 0
		case a.cpuType == CPUTypeARM64:
			return 1
		case a.cpuType == CPUTypeX86_64 && subtype == CPUSubtypeX86_64H:
			return 2
		case a.cpuType == CPUTypeX86_64:
			return 3
		default:
			return 99
		}
	}
	best := -1
	bestRank := 100
	for i, a := range archs {
		r := rank(a)
		if r < bestRank {
			bestRank = r
			best = i
		}
	}
	if best < 0 || bestRank == 100 {
		return fatArchEntry{}, false
	}
	return archs[best], true
}

func parseThin(f *os.File, path string) (*model.MachOInfo, error) {
	hdr := make([]byte, machHeader64Size)
	if _, err := readFull(f, hdr); err != nil {
		return nil, fmt.Errorf("macho: %s thin header: %w", path, platform.ErrMalformed)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	is64 := magic == Magic64 || magic == Magic64Cigam
	bigEndian := magic == Magic64Cigam || magic == Magic32Cigam

	bo := binary.ByteOrder(binary.LittleEndian)
	if bigEndian {
		bo = binary.BigEndian
	}

	cpuType := bo.Uint32(hdr[4:8])
	fileType := bo.Uint32(hdr[12:16])
	ncmds := bo.Uint32(hdr[16:20])
	sizeofcmds := bo.Uint32(hdr[20:24])

	if !is64 {
		// 32-bit header is 4 bytes shorter (no reserved field); rewind to
		// the correct load-command start.
		if _, err := f.Seek(-4, 1); err != nil {
			return nil, fmt.Errorf("macho: %s: %w", path, platform.ErrMalformed)
		}
	}

	if sizeofcmds > 64*1024*1024 {
		return nil, fmt.Errorf("macho: %s: implausible sizeofcmds %d: %w", path, sizeofcmds, platform.ErrMalformed)
	}

	cmdBuf := make([]byte, sizeofcmds)
	if _, err := readFull(f, cmdBuf); err != nil {
		return nil, fmt.Errorf("macho: %s: load commands: %w", path, platform.ErrMalformed)
	}

	info := &model.MachOInfo{
		CPUType:  cpuTypeName(cpuType),
		FileType: fileTypeName(fileType),
		Is64:     is64,
	}

	if err := walkLoadCommands(cmdBuf, ncmds, bo, info); err != nil {
		return nil, fmt.Errorf("macho: %s: %w", path, err)
	}
	return info, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("short read")
		}
	}
	return total, nil
}

func walkLoadCommands(buf []byte, ncmds uint32, bo binary.ByteOrder, info *model.MachOInfo) error {
	offset := 0
	for i := uint32(0); i < ncmds; i++ {
		if offset+loadCmdHeaderSize > len(buf) {
			return fmt.Errorf("load command %d overruns sizeofcmds: %w", i, platform.ErrMalformed)
		}
		cmd := bo.Uint32(buf[offset : offset+4])
		cmdsize := bo.Uint32(buf[offset+4 : offset+8])
		if cmdsize < loadCmdHeaderSize || offset+int(cmdsize) > len(buf) {
			return fmt.Errorf("load command %d has invalid size %d: %w", i, cmdsize, platform.ErrMalformed)
		}
		body := buf[offset : offset+int(cmdsize)]

		switch cmd {
		case LCSegment64:
			parseSegment64(body, bo, info)
		case LCLoadDylib:
			if s, ok := readLCString(body, bo); ok {
				info.LoadDylib = append(info.LoadDylib, s)
			}
		case LCLoadWeakDylib:
			if s, ok := readLCString(body, bo); ok {
				info.WeakDylib = append(info.WeakDylib, s)
			}
		case LCRpath:
			if s, ok := readLCString(body, bo); ok {
				info.Rpath = append(info.Rpath, s)
			}
		case LCReexportDylib:
			if s, ok := readLCString(body, bo); ok {
				info.Reexport = append(info.Reexport, s)
			}
		case LCUUID:
			if len(body) >= 24 {
				copy(info.UUID[:], body[8:24])
				info.HasUUID = true
			}
		case LCCodeSignature:
			// linkedit_data_command: cmd,cmdsize(8) dataoff(4) datasize(4).
			if len(body) >= 16 {
				info.CodeSignOff = bo.Uint32(body[8:12])
				info.CodeSignSize = bo.Uint32(body[12:16])
				info.HasCodeSign = true
			}
		default:
			// unknown but well-formed command: skip, not a failure.
		}

		offset += int(cmdsize)
	}
	return nil
}

// readLCString reads an lc_str offset field (a uint32 byte offset from the
// start of the command) and extracts a bounded, null-terminated string.
func readLCString(body []byte, bo binary.ByteOrder) (string, bool) {
	if len(body) < 12 {
		return "", false
	}
	strOff := bo.Uint32(body[8:12])
	if int(strOff) >= len(body) {
		return "", false
	}
	rest := body[strOff:]
	const maxLen = 1024
	if len(rest) > maxLen {
		rest = rest[:maxLen]
	}
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), true
		}
	}
	// Not null-terminated within bounds: malformed field, not a crash.
	return "", false
}

func parseSegment64(body []byte, bo binary.ByteOrder, info *model.MachOInfo) {
	// segment_command_64: cmd,cmdsize(8) segname[16] vmaddr vmsize fileoff filesize(32) ...
	if len(body) < 56 {
		return
	}
	name := nullTerminatedFixed(body[8:24])
	seg := model.SegmentInfo{
		Name:     name,
		VMAddr:   bo.Uint64(body[24:32]),
		VMSize:   bo.Uint64(body[32:40]),
		FileOff:  bo.Uint64(body[40:48]),
		FileSize: bo.Uint64(body[48:56]),
	}
	switch name {
	case "__TEXT":
		info.TextSeg = seg
		info.HasTextSeg = true
	case "__DATA":
		info.DataSeg = seg
		info.HasDataSeg = true
	}
}

func nullTerminatedFixed(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
