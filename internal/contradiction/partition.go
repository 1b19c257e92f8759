package contradiction

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/gpt"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// PartitionIntegrity cross-references the raw GPT parsed straight off the
// boot disk against the platform disk-arbitration service's view,
// flagging CRC failures in the raw parse itself and any partition the
// disk carries that the service does not report.
type PartitionIntegrity struct {
	DiskArbitration platform.DiskArbitration
	DevicePath      string

	// ProbeDevice is overridable in tests; defaults to gpt.Probe.
	ProbeDevice func(path string) (*gpt.Table, error)
}

func (p *PartitionIntegrity) Name() string { return "contradiction.partition_integrity" }

func (p *PartitionIntegrity) probe(path string) (*gpt.Table, error) {
	if p.ProbeDevice != nil {
		return p.ProbeDevice(path)
	}
	return gpt.Probe(path)
}

func (p *PartitionIntegrity) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	if p.DevicePath == "" {
		return nil, nil
	}
	table, err := p.probe(p.DevicePath)
	if err != nil {
		return nil, nil // no raw device access; the probe is optional (spec.md external interface 7)
	}

	view := projectGPTView(table)
	subject := model.FilesystemSubject("boot disk GPT", p.DevicePath)
	var anomalies []model.Anomaly

	if !view.HeaderCRCValid {
		anomalies = append(anomalies, model.NewFilesystemAnomaly(p.Name(), "GPT Header CRC Mismatch",
			fmt.Sprintf("%s: stored header CRC32 does not match the computed value", p.DevicePath),
			model.SeverityCritical, "T1565.001", "gpt_header_crc32", subject, model.NewEvidence()))
	}
	if !view.EntryArrayCRCValid {
		anomalies = append(anomalies, model.NewFilesystemAnomaly(p.Name(), "GPT Entry Array CRC Mismatch",
			fmt.Sprintf("%s: stored entry-array CRC32 does not match the computed value", p.DevicePath),
			model.SeverityCritical, "T1565.001", "gpt_entries_crc32", subject, model.NewEvidence()))
	}

	if p.DiskArbitration == nil {
		return anomalies, nil
	}
	services, err := p.DiskArbitration.List(ctx)
	if err != nil {
		return anomalies, nil
	}
	serviceUUIDs := make(map[string]bool, len(services))
	for _, s := range services {
		serviceUUIDs[s.UUID] = true
	}

	if len(view.Partitions) != len(services) {
		anomalies = append(anomalies, model.NewFilesystemAnomaly(p.Name(), "Partition Count Mismatch",
			fmt.Sprintf("%s: GPT declares %d partitions, disk-arbitration reports %d", p.DevicePath, len(view.Partitions), len(services)),
			model.SeverityHigh, "T1565.001", "gpt+disk_arbitration",
			subject, model.NewEvidence(
				model.Pair("gpt_count", fmt.Sprintf("%d", len(view.Partitions))),
				model.Pair("disk_arbitration_count", fmt.Sprintf("%d", len(services))),
			)))
	}

	for _, part := range view.Partitions {
		uuid := gpt.GUIDString(part.UniqueGUID)
		if serviceUUIDs[uuid] {
			continue
		}
		anomalies = append(anomalies, model.NewFilesystemAnomaly(p.Name(), "Hidden Partition",
			fmt.Sprintf("%s: partition %s (%s) is on disk but absent from disk-arbitration", p.DevicePath, uuid, part.Name),
			model.SeverityHigh, "T1565.001", "gpt+disk_arbitration",
			subject, model.NewEvidence(
				model.Pair("uuid", uuid),
				model.Pair("name", part.Name),
				model.Pair("start_lba", fmt.Sprintf("%d", part.StartLBA)),
				model.Pair("end_lba", fmt.Sprintf("%d", part.EndLBA)),
			)))
	}

	return anomalies, nil
}

func projectGPTView(table *gpt.Table) model.GPTView {
	view := model.GPTView{
		HeaderSignatureValid: table.Header.Signature == "EFI PART",
		HeaderCRCValid:       table.Header.HeaderCRCValid,
		EntryArrayCRCValid:   table.Header.EntriesCRCValid,
		EntryArrayLBA:        table.Header.EntriesLBA,
		EntryCount:           table.Header.EntryCount,
		EntrySize:            table.Header.EntrySize,
	}
	view.Partitions = make([]model.GPTPartition, len(table.Entries))
	for i, e := range table.Entries {
		view.Partitions[i] = model.GPTPartition{
			TypeGUID:   e.TypeGUID,
			UniqueGUID: e.UniqueGUID,
			StartLBA:   e.StartLBA,
			EndLBA:     e.EndLBA,
			Attributes: e.Attributes,
			Name:       e.Name,
		}
	}
	return view
}
