// Package platform abstracts everything the core consumes from the host
// operating system behind narrow, trait-shaped interfaces. Each contract
// below is a specification, not an OS name: the darwin build-tag file
// implements it against real Mach/BSD syscalls; the non-darwin stub file
// returns ErrUnsupported from every method so the rest of the module
// compiles and unit-tests on any GOOS, matching the split the rest of the
// retrieval pack uses for platform-specific adapters.
package platform

import "context"

// ProcessEntry is one row of the process table contract (external
// interface 1).
type ProcessEntry struct {
	PID       int
	Path      string
	Name      string
	ParentPID int
	UID       int
	Flags     uint32
}

// ProcessTable lists every live process and its identifying metadata.
type ProcessTable interface {
	// List returns every live pid with path/name/parent/uid. A pid whose
	// path cannot be read still appears, with Path == "" and
	// Name == "PID <n>".
	List(ctx context.Context) ([]ProcessEntry, error)
}

// ProcessArgs is the raw argument/environment contract (external interface
// 2).
type ProcessArgs interface {
	// Args returns argv and a parsed KEY=VALUE environment map for pid.
	Args(ctx context.Context, pid int) (argv []string, env map[string]string, err error)
}

// FDEntry is one entry from a process's file descriptor table (external
// interface 3).
type FDEntry struct {
	FD         int
	Type       string // "vnode" | "socket" | "other"
	VnodePath  string
	Protocol   string // for sockets: "TCP" | "UDP"
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	TCPState   string
}

// FDTable enumerates a single process's open file descriptors.
type FDTable interface {
	List(ctx context.Context, pid int) ([]FDEntry, error)
}

// VMRegion is one mapped region in a remote task's address space. Path is
// populated when the region backs a mapped file (via proc_regionfilename
// semantics) and is empty for anonymous mappings.
type VMRegion struct {
	Addr       uint64
	Size       uint64
	Protection int
	UserTag    int
	Path       string
}

// TaskPort is the remote task-port contract (external interface 4). A
// TaskPort must be closed on every exit path by the caller.
type TaskPort interface {
	Close() error
	Read(ctx context.Context, addr uint64, length int) ([]byte, error)
	Regions(ctx context.Context) ([]VMRegion, error)

	// DyldAllImageInfosAddr returns the remote address of the task's
	// dyld_all_image_infos structure, as reported by a TASK_DYLD_INFO
	// task_info query.
	DyldAllImageInfosAddr(ctx context.Context) (uint64, error)
}

// TaskPortOpener opens a remote task port for pid.
type TaskPortOpener interface {
	Open(ctx context.Context, pid int) (TaskPort, error)
}

// MachTaskRef is one task discovered by walking the default processor
// set's task list, translated back to a pid/path/name.
type MachTaskRef struct {
	PID  int
	Path string
	Name string
}

// MachTaskLister enumerates every task known to the default processor set
// (external interface paired with 4, reached via processor_set_tasks
// rather than task_for_pid). A task whose port fails pid_for_task
// translation is dropped silently, not surfaced as an error.
type MachTaskLister interface {
	List(ctx context.Context) ([]MachTaskRef, error)
}

// CodeSignQuery is the kernel code-signing contract (external interface
// 5).
type CodeSignQuery interface {
	FlagsForPID(ctx context.Context, pid int) (uint32, error)
}

// PartitionEntry is one row from the disk-arbitration listing (external
// interface 6).
type PartitionEntry struct {
	Identifier string
	UUID       string
	SizeBytes  uint64
}

// DiskArbitration lists partitions as reported by the platform's disk
// service, independent of the raw GPT parse.
type DiskArbitration interface {
	List(ctx context.Context) ([]PartitionEntry, error)
}

// ServiceEntry is one row from the service manager (external interface
// 7).
type ServiceEntry struct {
	Label          string
	PID            int
	LastExitStatus int
}

// ServiceManager lists the current service-manager view of launchd labels.
type ServiceManager interface {
	List(ctx context.Context) ([]ServiceEntry, error)
}

// KernelStats is the boot-args/kernel-statistics contract (external
// interface 8).
type KernelStats interface {
	BootArgs(ctx context.Context) ([]string, error)
	MaxProc(ctx context.Context) (int, error)
	ICMPCounters(ctx context.Context) (sent, received uint64, err error)
}

// EventTapEntry is one active event tap (external interface 9).
type EventTapEntry struct {
	TappingPID   int
	TargetPID    int
	EventMask    uint64
	Enabled      bool
	SystemWide   bool
}

// EventTaps enumerates active event taps.
type EventTaps interface {
	List(ctx context.Context) ([]EventTapEntry, error)
}

// KextEntry is one loaded kernel extension (external interface 10).
type KextEntry struct {
	BundleID string
	Version  string
	Loaded   bool
}

// KextLister enumerates loaded kernel extensions.
type KextLister interface {
	List(ctx context.Context) ([]KextEntry, error)
}

// SignalProbe issues kill(pid, 0) style liveness probes without sending a
// real signal, used by the process census contradiction probe.
type SignalProbe interface {
	// Probe reports true if pid is observable (kill returns success or
	// EPERM), false if ESRCH (no such process).
	Probe(pid int) bool
}

// ThreadLister reports a process's live thread count, used by the memory
// RWX probe's thread-count anomaly (spec.md §4.10).
type ThreadLister interface {
	ThreadCount(ctx context.Context, pid int) (int, error)
}

// DyldCacheRuntime supplies the two "we are already running against the
// shared cache" views the dyld-cache contradiction probe cross-checks
// against the on-disk header: the UUID the runtime's own dyld introspection
// API reports, and the UUID read directly out of the cache range mapped
// into this process's own address space.
type DyldCacheRuntime interface {
	RuntimeReportedUUID(ctx context.Context) ([16]byte, error)
	MappedCacheUUID(ctx context.Context) ([16]byte, error)
}
