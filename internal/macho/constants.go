// Package macho parses fat/thin Mach-O binaries from a filesystem path.
// Load-command ids and segment-flag constants are reproduced (not
// imported — no pack repo ships an importable Mach-O module) from a
// retrieved go-macho reference implementation's type definitions.
package macho

// Magic numbers.
const (
	MagicFat32       uint32 = 0xcafebabe
	MagicFat32Cigam  uint32 = 0xbebafeca
	Magic32          uint32 = 0xfeedface
	Magic32Cigam     uint32 = 0xcefaedfe
	Magic64          uint32 = 0xfeedfacf
	Magic64Cigam     uint32 = 0xcffaedfe
)

// Load command ids (subset needed by this spec).
const (
	lcReqDyld         uint32 = 0x80000000
	LCSegment         uint32 = 0x1
	LCSymtab          uint32 = 0x2
	LCThread          uint32 = 0x4
	LCUnixthread      uint32 = 0x5
	LCLoadDylib       uint32 = 0xc
	LCIDDylib         uint32 = 0xd
	LCLoadDylinker    uint32 = 0xe
	LCSegment64       uint32 = 0x19
	LCUUID            uint32 = 0x1b
	LCCodeSignature   uint32 = 0x1d
	LCLoadWeakDylib   uint32 = 0x18 | lcReqDyld
	LCRpath           uint32 = 0x1c | lcReqDyld
	LCReexportDylib   uint32 = 0x1f | lcReqDyld
	LCMain            uint32 = 0x28 | lcReqDyld
	LCDyldInfo        uint32 = 0x22
	LCDyldInfoOnly    uint32 = 0x22 | lcReqDyld
)

// CPU types (subset).
const (
	CPUTypeX86_64 uint32 = 0x01000007
	CPUTypeARM64  uint32 = 0x0100000c
)

// CPU subtypes relevant to the fat-slice architecture preference order.
const (
	CPUSubtypeARM64E      uint32 = 2
	CPUSubtypeX86_64H     uint32 = 8
	cpuSubtypeMask        uint32 = 0x00ffffff
)

// Mach-O file types (subset).
const (
	MHExecute uint32 = 0x2
	MHDylib   uint32 = 0x6
	MHBundle  uint32 = 0x8
)

func fileTypeName(t uint32) string {
	switch t {
	case MHExecute:
		return "execute"
	case MHDylib:
		return "dylib"
	case MHBundle:
		return "bundle"
	default:
		return "unknown"
	}
}

func cpuTypeName(t uint32) string {
	switch t {
	case CPUTypeX86_64:
		return "x86_64"
	case CPUTypeARM64:
		return "arm64"
	default:
		return "unknown"
	}
}
