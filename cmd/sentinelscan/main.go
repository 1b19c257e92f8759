// Command sentinelscan is a one-shot scan driver: it wires the scanning
// core's adapters together, captures a single process snapshot, runs every
// registered probe against it, and prints the resulting anomaly stream as
// newline-delimited JSON. It is a demonstration harness, not the core
// itself — the core's only contract is the in-process anomaly stream; a
// surrounding scheduler or agent is expected to invoke this (or call the
// packages directly) on whatever cadence it chooses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/outrider-security/sentinel/internal/behavior"
	"github.com/outrider-security/sentinel/internal/codesign"
	"github.com/outrider-security/sentinel/internal/config"
	"github.com/outrider-security/sentinel/internal/contradiction"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/netwatch"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/probe"
	"github.com/outrider-security/sentinel/internal/snapshot"
	"github.com/outrider-security/sentinel/internal/telemetry"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

// defaultJITAllowlist names process names whose anonymous RWX memory is
// expected: JIT compilers and the browser/WebKit renderer processes that
// host them. No data table in config.Tables carries this list since it is
// a memory-probe-only concern, distinct from the persistence/credential/
// script tables the rest of the probes share.
var defaultJITAllowlist = []string{
	"java", "node", "com.apple.WebKit.WebContent", "com.apple.JavaScriptCore",
	"Safari", "Google Chrome Helper (Renderer)",
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying the compiled-in defaults")
	devicePath := flag.String("device", "/dev/disk0", "raw device path probed for GPT partition integrity")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	logFormat := flag.String("log-format", "json", "json|console")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("sentinelscan %s (commit=%s)\n", buildVersion, buildCommit)
		return
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, err := telemetry.BuildLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if os.Geteuid() != 0 {
		logger.Warn("running without root: memory, kext, and some socket probes will degrade to permission errors rather than abort")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Scan.PerProbeTimeout)
	defer cancel()

	snap, err := snapshot.Capture(ctx, platform.NewProcessTable())
	if err != nil {
		logger.Fatal("process snapshot capture failed", zap.Error(err))
	}
	logger.Info("process snapshot captured", zap.Int("process_count", snap.Len()))

	validator := codesign.New(platform.NewCodeSignQuery(), cfg.Cache.MaxEntries, cfg.Tables.DangerousEntitlements)
	metrics := telemetry.NewMetrics()
	registry, analyzer := buildRegistry(cfg, validator, *devicePath)

	start := time.Now()
	results := registry.RunAll(ctx, snap, cfg.Scan.MaxParallelism, logger)
	metrics.ObserveScan(time.Since(start))

	for _, r := range results {
		if r.Err != nil {
			metrics.RecordProbeError(r.Name, "probe_error")
		}
		counts := map[string]int{}
		for _, a := range r.Anomalies {
			counts[a.Severity.String()]++
		}
		metrics.ObserveProbe(r.Name, 0, counts)
	}
	metrics.CodeSignCacheEntries.Set(float64(validator.CacheSize()))
	metrics.BeaconingBuckets.Set(float64(analyzer.BucketCount()))

	anomalies := probe.Flatten(results)
	model.ByPidThenTechnique(anomalies)

	enc := json.NewEncoder(os.Stdout)
	for _, a := range anomalies {
		if err := enc.Encode(toOutput(a)); err != nil {
			logger.Error("failed to encode anomaly", zap.Error(err))
		}
	}

	if probeErr := probe.Errors(results); probeErr != nil {
		logger.Warn("one or more probes reported errors", zap.Error(probeErr))
	}

	logger.Info("scan complete",
		zap.Int("probe_count", len(results)),
		zap.Int("anomaly_count", len(anomalies)),
		zap.Duration("duration", time.Since(start)),
	)

	os.Exit(exitCode(anomalies))
}

func buildRegistry(cfg *config.Config, validator *codesign.Validator, devicePath string) (*probe.Registry, *netwatch.Analyzer) {
	r := probe.NewRegistry()

	processArgs := platform.NewProcessArgs()
	fdTable := platform.NewFDTable()
	taskOpener := platform.NewTaskPortOpener()

	// contradiction probes (§4.9)
	r.Register(&contradiction.BinaryIntegrity{
		Opener:           taskOpener,
		CriticalBinaries: cfg.Tables.CriticalBinaries,
	})
	r.Register(&contradiction.DyldCache{Runtime: platform.NewDyldCacheRuntime()})
	r.Register(&contradiction.ProcessHollowing{
		Opener:             taskOpener,
		SystemProcessNames: cfg.Tables.SystemSingletons,
		JITAllowlist:       defaultJITAllowlist,
	})
	r.Register(&contradiction.InlineHookScan{
		Opener:             taskOpener,
		SystemProcessNames: cfg.Tables.SystemSingletons,
		CriticalLibraries:  cfg.Tables.CriticalLibraries,
	})
	r.Register(&contradiction.LaunchDaemonCensus{ServiceManager: platform.NewServiceManager()})
	r.Register(&contradiction.PartitionIntegrity{
		DiskArbitration: platform.NewDiskArbitration(),
		DevicePath:      devicePath,
	})
	r.Register(&contradiction.ProcessCensus{
		SignalProbe: platform.NewSignalProbe(),
		MachLister:  platform.NewMachTaskLister(),
		KernelStats: platform.NewKernelStats(),
		Singletons:  cfg.Tables.SystemSingletons,
	})

	// behavior probes (§4.10)
	r.Register(&behavior.DYLDInjection{
		ProcessArgs:   processArgs,
		DangerousVars: cfg.Tables.DangerousDyldVars,
	})
	r.Register(&behavior.CredentialAccess{
		FDTable:         fdTable,
		ProcessArgs:     processArgs,
		CredentialFiles: cfg.Tables.CredentialFiles,
		CredKeywords:    cfg.Tables.CredentialKeywords,
	})
	r.Register(&behavior.LOLBinAbuse{ProcessArgs: processArgs, Patterns: cfg.Tables.LOLBinPatterns})
	r.Register(&behavior.FakePasswordPrompt{ProcessArgs: processArgs, Patterns: cfg.Tables.FakePromptPatterns})
	r.Register(&behavior.EventTapScan{
		EventTaps: platform.NewEventTaps(),
		Validator: validator,
		Allowlist: cfg.Tables.EventTapAllowlist,
	})
	r.Register(&behavior.KextCensus{
		KextLister:         platform.NewKextLister(),
		KernelStats:        platform.NewKernelStats(),
		Validator:          validator,
		MaliciousKexts:     cfg.Tables.MaliciousKextPatterns,
		SuspiciousBootArgs: cfg.Tables.SuspiciousBootArgs,
	})
	r.Register(&behavior.MemoryRWX{
		Opener:             taskOpener,
		ThreadLister:       platform.NewThreadLister(),
		SystemProcessNames: cfg.Tables.SystemSingletons,
		JITAllowlist:       defaultJITAllowlist,
	})
	r.Register(&behavior.PersistenceScan{
		KextLister: platform.NewKextLister(),
		Validator:  validator,
		Baseline:   cfg.Tables.PersistenceBaseline,
	})
	r.Register(&behavior.ScriptBackdoor{
		HostDirs:            cfg.Tables.ScriptHostDirs,
		AllowedPathPrefixes: cfg.Tables.AllowedScriptPathPrefixes,
		DangerousSubstrings: cfg.Tables.DangerousCommandSubstrings,
	})
	r.Register(&behavior.CovertChannel{
		FDTable:         fdTable,
		KernelStats:     platform.NewKernelStats(),
		SuspiciousPorts: cfg.Tables.SuspiciousPorts,
	})
	r.Register(&behavior.CrashReportTriage{
		CriticalProcesses:    cfg.Tables.CriticalProcesses,
		ExploitationPatterns: cfg.Tables.ExploitationPatterns,
	})
	r.Register(&behavior.LogIntegrity{CriticalProcesses: cfg.Tables.CriticalProcesses})

	// network behavior analyzer (§4.11)
	analyzer := netwatch.New(cfg.Beaconing, cfg.Tables, validator)
	r.Register(&netwatch.NetworkBehaviorProbe{Analyzer: analyzer, FDTable: fdTable})

	return r, analyzer
}

func exitCode(anomalies []model.Anomaly) int {
	var worst model.Severity
	for _, a := range anomalies {
		if a.Severity > worst {
			worst = a.Severity
		}
	}
	switch {
	case worst >= model.SeverityCritical:
		return 2
	case worst >= model.SeverityHigh:
		return 1
	default:
		return 0
	}
}

type subjectOutput struct {
	Kind       string `json:"kind"`
	PID        int    `json:"pid,omitempty"`
	Name       string `json:"name,omitempty"`
	Path       string `json:"path,omitempty"`
	ParentPID  int    `json:"parent_pid,omitempty"`
	ParentName string `json:"parent_name,omitempty"`
	FSName     string `json:"fs_name,omitempty"`
	FSPath     string `json:"fs_path,omitempty"`
}

type anomalyOutput struct {
	Timestamp   time.Time         `json:"timestamp"`
	ScannerID   string            `json:"scanner_id"`
	Technique   string            `json:"technique"`
	Description string            `json:"description"`
	Severity    string            `json:"severity"`
	MitreID     string            `json:"mitre_id"`
	EnumMethod  string            `json:"enum_method"`
	Subject     subjectOutput     `json:"subject"`
	Evidence    map[string]string `json:"evidence"`
}

func toOutput(a model.Anomaly) anomalyOutput {
	ev := make(map[string]string, len(a.Evidence.Pairs()))
	for _, p := range a.Evidence.Pairs() {
		ev[p.Key] = p.Value
	}
	return anomalyOutput{
		Timestamp:   a.Timestamp,
		ScannerID:   a.ScannerID,
		Technique:   a.Technique,
		Description: a.Description,
		Severity:    a.Severity.String(),
		MitreID:     a.MitreID,
		EnumMethod:  a.EnumMethod,
		Subject: subjectOutput{
			Kind:       a.Subject.Kind.String(),
			PID:        a.Subject.PID,
			Name:       a.Subject.Name,
			Path:       a.Subject.Path,
			ParentPID:  a.Subject.ParentPID,
			ParentName: a.Subject.ParentName,
			FSName:     a.Subject.FSName,
			FSPath:     a.Subject.FSPath,
		},
		Evidence: ev,
	}
}
