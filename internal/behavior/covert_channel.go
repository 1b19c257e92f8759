package behavior

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
	"github.com/outrider-security/sentinel/internal/sockets"
)

const icmpEchoCountThreshold = 10000

// CovertChannel flags ESTABLISHED TCP sockets whose remote port is in the
// suspicious-ports table, and separately flags kernel ICMP echo traffic
// volume consistent with ICMP tunneling.
type CovertChannel struct {
	FDTable         platform.FDTable
	KernelStats     platform.KernelStats
	SuspiciousPorts []int
}

func (c *CovertChannel) Name() string { return "behavior.covert_channel_scan" }

func (c *CovertChannel) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	if c.FDTable != nil {
		entries, err := sockets.Enumerate(ctx, snap, c.FDTable)
		if err == nil {
			portSet := make(map[int]bool, len(c.SuspiciousPorts))
			for _, p := range c.SuspiciousPorts {
				portSet[p] = true
			}
			for _, e := range entries {
				if e.Protocol != "TCP" || e.TCPState != "ESTABLISHED" || !portSet[e.RemotePort] {
					continue
				}
				subject := model.ProcessSubject(e.PID, e.ProcessName, "")
				ev := model.NewEvidence(
					model.Pair("pid", fmt.Sprintf("%d", e.PID)),
					model.Pair("remote_ip", e.RemoteIP),
					model.Pair("remote_port", fmt.Sprintf("%d", e.RemotePort)),
				)
				anomalies = append(anomalies, model.NewProcessAnomaly(c.Name(), "Suspicious Port Connection",
					fmt.Sprintf("pid %d (%s) has an established connection to %s:%d", e.PID, e.ProcessName, e.RemoteIP, e.RemotePort),
					model.SeverityHigh, "T1095", "socket_enumeration", subject, ev))
			}
		}
	}

	if c.KernelStats != nil {
		sent, received, err := c.KernelStats.ICMPCounters(ctx)
		if err == nil && sent+received > icmpEchoCountThreshold {
			subject := model.FilesystemSubject("icmp", "")
			ev := model.NewEvidence(
				model.Pair("sent", fmt.Sprintf("%d", sent)),
				model.Pair("received", fmt.Sprintf("%d", received)),
			)
			anomalies = append(anomalies, model.NewFilesystemAnomaly(c.Name(), "Excessive ICMP Echo Traffic",
				fmt.Sprintf("ICMP echo sent+received = %d, exceeds tunneling threshold", sent+received),
				model.SeverityHigh, "T1095", "sysctl(net.inet.icmp.stats)", subject, ev))
		}
	}

	return anomalies, nil
}
