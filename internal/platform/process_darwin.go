//go:build darwin

package platform

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kinfoProc field offsets, by GOARCH. These mirror the layout of the BSD
// struct kinfo_proc as returned by sysctl(CTL_KERN, KERN_PROC, ...); there
// is no portable Go type for it, so the offsets are maintained by hand per
// GOARCH. They are not checked against a known process at run time.
type kinfoOffsets struct {
	size      int
	pid       int
	ppid      int
	uid       int
	comm      int
	commLen   int
}

var offsets kinfoOffsets

func init() {
	switch runtime.GOARCH {
	case "arm64":
		offsets = kinfoOffsets{size: 648, pid: 72, ppid: 76, uid: 88, comm: 243, commLen: 16}
	default: // amd64
		offsets = kinfoOffsets{size: 492, pid: 68, ppid: 72, uid: 84, comm: 163, commLen: 16}
	}
}

const (
	ctlKern       = 1
	kernProc      = 14
	kernProcAll   = 0
	kernProcArgs2 = 49
	kernProcPID   = 1
)

// darwinProcessTable implements ProcessTable via a cgo-free two-phase
// sysctl(CTL_KERN, KERN_PROC, KERN_PROC_ALL) call.
type darwinProcessTable struct{}

// NewProcessTable returns the darwin ProcessTable adapter.
func NewProcessTable() ProcessTable { return &darwinProcessTable{} }

func (darwinProcessTable) List(ctx context.Context) ([]ProcessEntry, error) {
	buf, err := sysctlProcAll()
	if err != nil {
		return nil, fmt.Errorf("platform: KERN_PROC_ALL: %w", ErrTransient)
	}

	n := len(buf) / offsets.size
	out := make([]ProcessEntry, 0, n)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return out, nil
		}
		rec := buf[i*offsets.size : (i+1)*offsets.size]
		pe := parseKinfoProc(rec)
		out = append(out, pe)
	}
	return out, nil
}

func parseKinfoProc(rec []byte) ProcessEntry {
	pid := int(int32(binary.LittleEndian.Uint32(rec[offsets.pid:])))
	ppid := int(int32(binary.LittleEndian.Uint32(rec[offsets.ppid:])))
	uid := int(int32(binary.LittleEndian.Uint32(rec[offsets.uid:])))
	comm := nullTerminated(rec[offsets.comm : offsets.comm+offsets.commLen])

	path, err := pidPath(pid)
	name := comm
	if err != nil || path == "" {
		path = ""
		if name == "" {
			name = fmt.Sprintf("PID %d", pid)
		}
	}
	return ProcessEntry{PID: pid, Path: path, Name: name, ParentPID: ppid, UID: uid}
}

func nullTerminated(b []byte) string {
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		return string(b[:idx])
	}
	return string(b)
}

// sysctlProcAll performs the two-phase size-then-data sysctl call for the
// whole process table.
func sysctlProcAll() ([]byte, error) {
	mib := []int32{ctlKern, kernProc, kernProcAll, 0}
	return sysctlRaw(mib)
}

func sysctlRaw(mib []int32) ([]byte, error) {
	var size uintptr
	_, _, errno := unix.Syscall6(unix.SYS___SYSCTL,
		uintptr(unsafe.Pointer(&mib[0])), uintptr(len(mib)),
		0, uintptr(unsafe.Pointer(&size)), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	if size == 0 {
		return nil, nil
	}
	// Grow the buffer slightly: the process table can change between the
	// size query and the data fetch.
	size += size / 8
	buf := make([]byte, size)
	_, _, errno = unix.Syscall6(unix.SYS___SYSCTL,
		uintptr(unsafe.Pointer(&mib[0])), uintptr(len(mib)),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return buf[:size], nil
}

// pidPath resolves the canonical executable path for pid. KERN_PROCARGS2's
// buffer begins with the exec path the kernel resolved at exec(2) time,
// before the argc-declared argv/envp block; reusing that sysctl avoids a
// second syscall family just for the path.
func pidPath(pid int) (string, error) {
	mib := []int32{ctlKern, kernProcArgs2, int32(pid)}
	data, err := sysctlRaw(mib)
	if err != nil || len(data) < 4 {
		return "", ErrPermission
	}
	rest := data[4:]
	idx := bytes.IndexByte(rest, 0)
	if idx < 0 {
		return "", ErrMalformed
	}
	return string(rest[:idx]), nil
}

// darwinProcessArgs implements ProcessArgs via sysctl(KERN_PROCARGS2).
type darwinProcessArgs struct{}

// NewProcessArgs returns the darwin ProcessArgs adapter.
func NewProcessArgs() ProcessArgs { return &darwinProcessArgs{} }

func (darwinProcessArgs) Args(ctx context.Context, pid int) ([]string, map[string]string, error) {
	mib := []int32{ctlKern, kernProcArgs2, int32(pid)}
	data, err := sysctlRaw(mib)
	if err != nil {
		return nil, nil, fmt.Errorf("platform: KERN_PROCARGS2 pid=%d: %w", pid, ErrPermission)
	}
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("platform: KERN_PROCARGS2 pid=%d: %w", pid, ErrMalformed)
	}

	argc := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	rest := data[4:]

	// Skip the exec path.
	if idx := bytes.IndexByte(rest, 0); idx >= 0 {
		rest = rest[idx:]
	} else {
		return nil, nil, fmt.Errorf("platform: KERN_PROCARGS2 pid=%d exec path: %w", pid, ErrMalformed)
	}
	// Skip padding nulls between exec path and argv[0].
	for len(rest) > 0 && rest[0] == 0 {
		rest = rest[1:]
	}

	argv := make([]string, 0, argc)
	for i := 0; i < argc && len(rest) > 0; i++ {
		idx := bytes.IndexByte(rest, 0)
		if idx < 0 {
			argv = append(argv, string(rest))
			rest = nil
			break
		}
		argv = append(argv, string(rest[:idx]))
		rest = rest[idx+1:]
	}

	env := make(map[string]string)
	for len(rest) > 0 {
		if rest[0] == 0 {
			rest = rest[1:]
			continue
		}
		idx := bytes.IndexByte(rest, 0)
		var entry string
		if idx < 0 {
			entry = string(rest)
			rest = nil
		} else {
			entry = string(rest[:idx])
			rest = rest[idx+1:]
		}
		if eq := bytes.IndexByte([]byte(entry), '='); eq >= 0 {
			env[entry[:eq]] = entry[eq+1:]
		}
	}
	return argv, env, nil
}
