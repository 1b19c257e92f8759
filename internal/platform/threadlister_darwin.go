//go:build darwin

package platform

import (
	"context"
	"encoding/binary"
	"fmt"
)

// proc_pidinfo flavor and struct proc_taskinfo layout (sys/proc_info.h).
// Issued through the same cgo-free procInfo syscall wrapper sockets_darwin.go
// uses for PROC_PIDLISTFDS/PROC_PIDFDSOCKETINFO; pti_threadnum is just
// another fixed-offset field in a proc_pidinfo response, not a distinct
// call surface.
const (
	procPidTaskInfo  = 4
	procTaskInfoSize = 96
	ptiThreadNumOff  = 84
)

// darwinThreadLister implements ThreadLister via
// proc_pidinfo(PROC_PIDTASKINFO).pti_threadnum.
type darwinThreadLister struct{}

func NewThreadLister() ThreadLister { return darwinThreadLister{} }

func (darwinThreadLister) ThreadCount(ctx context.Context, pid int) (int, error) {
	buf, err := procInfo(pid, procPidTaskInfo, 0, nil, procTaskInfoSize)
	if err != nil || len(buf) < ptiThreadNumOff+4 {
		return 0, fmt.Errorf("platform: PROC_PIDTASKINFO pid=%d: %w", pid, ErrPermission)
	}
	return int(binary.LittleEndian.Uint32(buf[ptiThreadNumOff : ptiThreadNumOff+4])), nil
}
