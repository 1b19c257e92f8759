//go:build darwin

package platform

import (
	"context"
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mach trap numbers used to obtain a task port. These are not exposed by
// golang.org/x/sys/unix (it covers BSD syscalls, not the Mach trap table),
// so the numbers are reproduced from XNU's syscall_sw.c mach trap table
// and issued via the negative-syscall-number convention Darwin uses to
// multiplex Mach traps onto syscall(2).
const (
	trapTaskSelf   = -28
	trapTaskForPID = -45
)

// darwinTaskPort wraps a Mach task port obtained via task_for_pid.
//
// Reading remote memory and querying the dyld image-info address are
// MIG-generated RPCs (mach_vm_read_overwrite, task_info), marshalled by hand in machmsg_darwin.go
// rather than through libSystem's MIG client stubs, keeping the whole
// adapter cgo-free like every other darwin file in this package. Region
// enumeration itself goes through proc_pidinfo(PROC_PIDREGIONPATHINFO)
// instead, the same cgo-free syscall path sockets_darwin.go already uses,
// since it hands back the backing file path directly and needs no MIG
// round trip at all.
type darwinTaskPort struct {
	port uint32
	pid  int
}

type darwinTaskPortOpener struct{}

// NewTaskPortOpener returns the darwin TaskPortOpener adapter.
func NewTaskPortOpener() TaskPortOpener { return darwinTaskPortOpener{} }

func (darwinTaskPortOpener) Open(ctx context.Context, pid int) (TaskPort, error) {
	self, _, errno := unix.Syscall(uintptr(trapTaskSelf), 0, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("platform: task_self_trap: %w", ErrTransient)
	}

	var port uint32
	// task_for_pid(target_tport, pid, &port). Absence of the
	// task_for_pid-allow entitlement (or not running as root) surfaces as
	// EPERM; the caller treats that as ErrPermission and moves on —
	// protected processes legitimately refuse.
	_, _, errno = unix.Syscall(uintptr(trapTaskForPID), self, uintptr(pid), uintptr(unsafe.Pointer(&port)))
	if errno != 0 {
		return nil, fmt.Errorf("platform: task_for_pid pid=%d: %w", pid, ErrPermission)
	}
	return &darwinTaskPort{port: port, pid: pid}, nil
}

func (t *darwinTaskPort) Close() error {
	releasePort(t.port)
	t.port = 0
	return nil
}

// mach_vm_read_overwrite lives in the mach_vm MIG subsystem (base 4800,
// mach/mach_vm.defs); routine numbers below are assigned in declaration
// order starting from that base.
const (
	machVMSubsystemBase        = 4800
	routineMachVMReadOverwrite = machVMSubsystemBase + 8

	// task subsystem (base 3400, mach/task.defs).
	taskSubsystemBase = 3400
	routineTaskInfo   = taskSubsystemBase + 5

	taskFlavorDyldInfo = 17 // TASK_DYLD_INFO
	taskDyldInfoCount  = 5  // TASK_DYLD_INFO_COUNT: sizeof(task_dyld_info_data_t)/sizeof(natural_t)
)

// Read issues mach_vm_read_overwrite: the kernel copies length bytes from
// the remote task directly into a local buffer we supply, so the reply
// message itself only carries back a byte count, not the data — no
// out-of-line memory descriptor is needed.
func (t *darwinTaskPort) Read(ctx context.Context, addr uint64, length int) ([]byte, error) {
	out := make([]byte, length)
	req := make([]byte, 24)
	binary.LittleEndian.PutUint64(req[0:8], addr)
	binary.LittleEndian.PutUint64(req[8:16], uint64(length))
	binary.LittleEndian.PutUint64(req[16:24], uint64(uintptr(unsafe.Pointer(&out[0]))))

	_, retCode, err := machCall(t.port, routineMachVMReadOverwrite, req, 8)
	if err != nil {
		return nil, fmt.Errorf("platform: mach_vm_read_overwrite pid=%d addr=%#x: %w", t.pid, addr, err)
	}
	if retCode != 0 {
		return nil, fmt.Errorf("platform: mach_vm_read_overwrite pid=%d addr=%#x: kern_return=%d: %w", t.pid, addr, retCode, ErrPermission)
	}
	return out, nil
}

// Regions enumerates the task's address space via repeated
// proc_pidinfo(PROC_PIDREGIONPATHINFO) calls, each one seeking to the next
// mapped region at or after the previous region's end address.
func (t *darwinTaskPort) Regions(ctx context.Context) ([]VMRegion, error) {
	var out []VMRegion
	addr := uint64(0)
	const maxRegions = 65536
	for i := 0; i < maxRegions; i++ {
		if ctx.Err() != nil {
			return out, nil
		}
		reg, ok := queryRegion(t.pid, addr)
		if !ok {
			break
		}
		out = append(out, reg)
		if reg.Size == 0 {
			break
		}
		next := reg.Addr + reg.Size
		if next <= addr {
			break
		}
		addr = next
	}
	return out, nil
}

// proc_pidinfo(PROC_PIDREGIONPATHINFO) flavor and struct proc_regioninfo /
// proc_regionpath layout (sys/proc_info.h). Chosen over
// mach_vm_region_recurse specifically because vm_region_submap_info_64's
// layout has shifted across OS releases, while proc_regioninfo is a stable
// libproc-facing struct that also hands back the backing file path
// directly, without a second MIG round trip.
const (
	procPidRegionPathInfo = 8

	// struct proc_regioninfo: uint32 pri_protection; uint32
	// pri_max_protection; uint32 pri_inheritance; uint32 pri_flags; uint64
	// pri_offset; uint32 pri_behavior; uint32 pri_user_wired_count;
	// uint32 pri_user_tag; uint32 pri_pages_resident; uint32
	// pri_pages_shared_now_private; uint32 pri_pages_swapped_out; uint32
	// pri_pages_dirtied; uint32 pri_ref_count; uint32 pri_shadow_depth;
	// uint32 pri_share_mode; uint32 pri_private_pages_resident; uint32
	// pri_shared_pages_resident; uint32 pri_obj_id; uint32 pri_depth;
	// uint64 pri_address; uint64 pri_size.
	priProtectionOff   = 0
	priUserTagOff      = 28
	priAddressOff      = 72
	priSizeOff         = 80
	procRegionInfoSize = 88

	// struct proc_regionpath trails proc_regioninfo: a MAXPATHLEN (1024)
	// char buffer, null-terminated.
	regionPathMaxLen = 1024
)

// queryRegion returns the mapped region at or after addr, mirroring
// proc_regionfilename/PROC_PIDREGIONPATHINFO semantics: the kernel finds
// the first region whose range includes or follows addr.
func queryRegion(pid int, addr uint64) (VMRegion, bool) {
	buf, err := procInfo(pid, procPidRegionPathInfo, int(addr), nil, procRegionInfoSize+regionPathMaxLen)
	if err != nil || len(buf) < procRegionInfoSize {
		return VMRegion{}, false
	}
	reg := VMRegion{
		Addr:       binary.LittleEndian.Uint64(buf[priAddressOff : priAddressOff+8]),
		Size:       binary.LittleEndian.Uint64(buf[priSizeOff : priSizeOff+8]),
		Protection: int(int32(binary.LittleEndian.Uint32(buf[priProtectionOff : priProtectionOff+4]))),
		UserTag:    int(binary.LittleEndian.Uint32(buf[priUserTagOff : priUserTagOff+4])),
	}
	if len(buf) > procRegionInfoSize {
		reg.Path = nullTerminated(buf[procRegionInfoSize:])
	}
	return reg, true
}

// DyldAllImageInfosAddr issues task_info(TASK_DYLD_INFO) and returns
// task_dyld_info_data_t.all_image_info_addr.
func (t *darwinTaskPort) DyldAllImageInfosAddr(ctx context.Context) (uint64, error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:4], taskFlavorDyldInfo)
	binary.LittleEndian.PutUint32(req[4:8], taskDyldInfoCount)

	body, retCode, err := machCall(t.port, routineTaskInfo, req, taskDyldInfoCount*4)
	if err != nil {
		return 0, fmt.Errorf("platform: task_info(TASK_DYLD_INFO) pid=%d: %w", t.pid, err)
	}
	if retCode != 0 {
		return 0, fmt.Errorf("platform: task_info(TASK_DYLD_INFO) pid=%d: kern_return=%d: %w", t.pid, retCode, ErrPermission)
	}
	// body is [count(4)][task_dyld_info_data_t...]; all_image_info_addr is
	// the struct's first field, a mach_vm_address_t.
	const infoOff = 4
	if len(body) < infoOff+8 {
		return 0, fmt.Errorf("platform: task_info(TASK_DYLD_INFO) pid=%d: short reply: %w", t.pid, ErrMalformed)
	}
	return binary.LittleEndian.Uint64(body[infoOff : infoOff+8]), nil
}

// darwinMachTaskLister would walk the default processor set's task list via
// host_processor_set_priv/processor_set_tasks, a MIG call that (unlike
// mach_vm_read_overwrite and task_info above) replies with an out-of-line
// port array: a separate complex-message descriptor carrying a
// kernel-allocated array of send rights, each one then requiring its own
// pid_for_task RPC and a host-priv port obtained from a privileged caller.
// That is a materially different message shape from the scalar-only
// request/reply bodies machCall (machmsg_darwin.go) marshals, so it is left
// unimplemented here; the hidden-process probe is fully buildable and
// testable against a fake MachTaskLister in the meantime.
type darwinMachTaskLister struct{}

// NewMachTaskLister returns the darwin MachTaskLister adapter.
func NewMachTaskLister() MachTaskLister { return darwinMachTaskLister{} }

func (darwinMachTaskLister) List(ctx context.Context) ([]MachTaskRef, error) {
	return nil, fmt.Errorf("platform: processor_set_tasks requires an out-of-line port-array descriptor: %w", ErrUnsupported)
}
