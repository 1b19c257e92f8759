// Package sockets enumerates every live process's open socket
// descriptors and projects them into the flat record shape probes and
// the network behavior analyzer consume.
package sockets

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// Enumerate walks every pid in snap (ascending) and lists its socket file
// descriptors via table, projecting each into a SocketEntry. A pid whose
// descriptor table cannot be read (exited, permission denied) is skipped
// silently rather than aborting the whole enumeration — matching the
// rest of the core's "skip, continue" failure discipline for per-target
// enumeration errors.
func Enumerate(ctx context.Context, snap *snapshot.Snapshot, table platform.FDTable) ([]model.SocketEntry, error) {
	var out []model.SocketEntry
	for _, pid := range snap.PIDs() {
		if ctx.Err() != nil {
			return out, fmt.Errorf("sockets: enumerate: %w", ctx.Err())
		}
		fds, err := table.List(ctx, pid)
		if err != nil {
			continue
		}
		name := snap.Name(pid)
		for _, fd := range fds {
			if fd.Type != "socket" {
				continue
			}
			out = append(out, model.SocketEntry{
				PID:         pid,
				ProcessName: name,
				Protocol:    fd.Protocol,
				LocalIP:     fd.LocalIP,
				LocalPort:   fd.LocalPort,
				RemoteIP:    fd.RemoteIP,
				RemotePort:  fd.RemotePort,
				TCPState:    fd.TCPState,
			})
		}
	}
	return out, nil
}
