package contradiction

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/machtask"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// ProcessCensus cross-references three independent views of "which pids
// exist": the BSD snapshot, a kill(pid, 0) brute-force sweep, and a Mach
// processor-set task walk. It also flags any running instance count > 1
// for a fixed list of singleton system processes.
type ProcessCensus struct {
	SignalProbe platform.SignalProbe
	MachLister  platform.MachTaskLister
	KernelStats platform.KernelStats
	Singletons  []string
}

func (p *ProcessCensus) Name() string { return "contradiction.process_census" }

type pidInfo struct {
	path string
	name string
}

func (p *ProcessCensus) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	var anomalies []model.Anomaly

	bsd := make(map[int]pidInfo)
	for _, pid := range snap.PIDs() {
		e, _ := snap.Entry(pid)
		bsd[pid] = pidInfo{path: e.Path, name: e.Name}
	}

	signalSet, signalOK := p.sweepSignalProbe(ctx)

	machSet := make(map[int]pidInfo)
	machOK := false
	if p.MachLister != nil {
		refs, err := machtask.Enumerate(ctx, p.MachLister)
		if err == nil {
			machOK = true
			for _, r := range refs {
				machSet[r.PID] = pidInfo{path: r.Path, name: r.Name}
			}
		}
	}

	union := make(map[int]bool)
	for pid := range bsd {
		union[pid] = true
	}
	for pid := range signalSet {
		union[pid] = true
	}
	for pid := range machSet {
		union[pid] = true
	}

	for pid := range union {
		if pid <= 1 {
			continue
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		_, inBSD := bsd[pid]
		_, inSignal := signalSet[pid]
		_, inMach := machSet[pid]

		if signalOK && inSignal && !inBSD {
			anomalies = append(anomalies, p.hiddenAnomaly(pid, "Hidden Process (kill brute-force)",
				"kill(pid, 0) liveness probe", pidInfo{}, "kill_brute_force", "bsd_snapshot", nil))
		}
		if machOK && inMach && !inBSD {
			extra := []model.EvidencePair{model.Pair("mach_total", fmt.Sprintf("%d", len(machSet)))}
			anomalies = append(anomalies, p.hiddenAnomaly(pid, "Hidden Process (Mach task walk)",
				"processor_set_tasks walk", machSet[pid], "mach_task_walk", "bsd_snapshot", extra))
		}
		if signalOK && machOK && inBSD && !inSignal && !inMach {
			anomalies = append(anomalies, p.hiddenAnomaly(pid, "Ghost Process (DKOM suspected)",
				"bsd_snapshot vs kill-probe vs mach-walk", bsd[pid], "bsd_snapshot", "kill_brute_force+mach_task_walk", nil))
		}
	}

	anomalies = append(anomalies, p.singletonAnomalies(snap)...)
	return anomalies, nil
}

func (p *ProcessCensus) hiddenAnomaly(pid int, technique, enumMethod string, info pidInfo, detection, notIn string, extra []model.EvidencePair) model.Anomaly {
	subject := model.ProcessSubject(pid, info.name, info.path)
	pairs := []model.EvidencePair{
		model.Pair("pid", fmt.Sprintf("%d", pid)),
		model.Pair("detection", detection),
		model.Pair("not_in", notIn),
		model.Pair("proc_path", info.path),
	}
	pairs = append(pairs, extra...)
	ev := model.NewEvidence(pairs...)
	return model.NewProcessAnomaly(p.Name(), technique,
		fmt.Sprintf("pid %d observed via %s, absent from %s", pid, detection, notIn),
		model.SeverityCritical, "T1014", enumMethod, subject, ev)
}

func (p *ProcessCensus) sweepSignalProbe(ctx context.Context) (map[int]pidInfo, bool) {
	if p.SignalProbe == nil || p.KernelStats == nil {
		return nil, false
	}
	maxProc, err := p.KernelStats.MaxProc(ctx)
	if err != nil || maxProc <= 0 {
		return nil, false
	}
	out := make(map[int]pidInfo)
	for pid := 2; pid < maxProc; pid++ {
		if pid%256 == 0 && ctx.Err() != nil {
			return out, true
		}
		if p.SignalProbe.Probe(pid) {
			out[pid] = pidInfo{}
		}
	}
	return out, true
}

func (p *ProcessCensus) singletonAnomalies(snap *snapshot.Snapshot) []model.Anomaly {
	var out []model.Anomaly
	for _, name := range p.Singletons {
		pids := snap.PIDsByName(name)
		if len(pids) <= 1 {
			continue
		}
		pidStrs := ""
		for i, pid := range pids {
			if i > 0 {
				pidStrs += ", "
			}
			pidStrs += fmt.Sprintf("%d", pid)
		}
		for _, pid := range pids {
			e, _ := snap.Entry(pid)
			subject := model.ProcessSubject(pid, name, e.Path)
			ev := model.NewEvidence(
				model.Pair("pid", fmt.Sprintf("%d", pid)),
				model.Pair("instance_count", fmt.Sprintf("%d", len(pids))),
				model.Pair("pids", pidStrs),
				model.Pair("path", e.Path),
			)
			out = append(out, model.NewProcessAnomaly(p.Name(), "Duplicate System Process",
				fmt.Sprintf("%s has %d running instances", name, len(pids)),
				model.SeverityCritical, "T1036", "bsd_snapshot", subject, ev))
		}
	}
	return out
}
