package model

// MachOInfo is the structured result of parsing one architecture slice of a
// Mach-O binary.
type MachOInfo struct {
	CPUType    string
	FileType   string
	Is64       bool
	LoadDylib  []string
	WeakDylib  []string
	Rpath      []string
	Reexport   []string
	UUID       [16]byte
	HasUUID    bool
	TextSeg    SegmentInfo
	DataSeg    SegmentInfo
	HasTextSeg bool
	HasDataSeg bool

	// SliceFileOffset is the byte offset, from the start of the file, at
	// which the parsed architecture slice begins (0 for a thin file).
	SliceFileOffset int64

	// CodeSignOff/CodeSignSize locate the LC_CODE_SIGNATURE linkedit blob
	// relative to SliceFileOffset.
	CodeSignOff  uint32
	CodeSignSize uint32
	HasCodeSign  bool
}

// SegmentInfo records the on-disk/in-memory geometry of one segment of
// interest.
type SegmentInfo struct {
	Name     string
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
}

// SigningStatus is the closed classification a code-signing validation
// yields.
type SigningStatus int

const (
	SigningUnsigned SigningStatus = iota
	SigningAdHoc
	SigningSigned
	SigningInvalid
)

func (s SigningStatus) String() string {
	switch s {
	case SigningUnsigned:
		return "unsigned"
	case SigningAdHoc:
		return "ad_hoc"
	case SigningSigned:
		return "signed"
	case SigningInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// SigningInfo is the static validation result for one on-disk binary.
type SigningInfo struct {
	Status                SigningStatus
	TeamID                string
	SigningID              string
	Entitlements          map[string]string
	IsApplePlatformBinary bool
}

// KernelCSInfo is the live kernel code-signing flag word for a running pid.
type KernelCSInfo struct {
	FlagsWord  uint32
	IsValid    bool
	IsDebugged bool
	FlagNames  []string
}

// Kernel CS flag bits (see codesign.h).
const (
	CSValid            uint32 = 0x00000001
	CSAdhoc            uint32 = 0x00000004
	CSHard             uint32 = 0x00000100
	CSKill             uint32 = 0x00000200
	CSDebugged         uint32 = 0x10000000
	CSPlatformBinary   uint32 = 0x04000000
)

// LaunchPlistDescriptor is a parsed launchd plist.
type LaunchPlistDescriptor struct {
	Label        string
	PlistPath    string
	BinaryPath   string
	KeepAlive    bool
	EnvVars      map[string]string
}

// ServiceManagerEntry is one entry from the service manager's view of a
// launchd label.
type ServiceManagerEntry struct {
	Label          string
	PID            int
	LastExitStatus int
}

// SocketEntry is one socket descriptor entry projected by the socket
// enumerator.
type SocketEntry struct {
	PID         int
	ProcessName string
	Protocol    string // "TCP" | "UDP"
	LocalIP     string
	LocalPort   int
	RemoteIP    string
	RemotePort  int
	TCPState    string
}

// LoadedImageEntry is one entry from a remote process's loaded-image list.
type LoadedImageEntry struct {
	LoadAddress uint64
	Path        string
}

// VMRegion is one mapped region in a remote task's address space, as
// projected by the Mach task reader above the raw platform.VMRegion.
type VMRegion struct {
	LoadAddress uint64
	Size        uint64
	Protection  int
	UserTag     int
	Path        string
}

// GPTPartition is one parsed partition table entry.
type GPTPartition struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       string
}

// GPTView is the parsed GPT header plus its partition entries.
type GPTView struct {
	HeaderSignatureValid bool
	HeaderCRCValid       bool
	EntryArrayCRCValid   bool
	EntryArrayLBA        uint64
	EntryCount           uint32
	EntrySize            uint32
	Partitions           []GPTPartition
}

// ConnectionRecord is one observed network connection for the beaconing
// analyzer.
type ConnectionRecord struct {
	Timestamp  int64 // unix nanos
	PID        int
	RemoteIP   string
	RemotePort int
}
