// Package netwatch implements the network behavior analyzer: a
// size-bounded connection history keyed by (process, remote host or IP),
// a coefficient-of-variation beaconing detector over that history, and a
// handful of single-record classifiers (raw-IP, known C2 ports, cloud
// C2/dead-drop hosts).
package netwatch

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/outrider-security/sentinel/internal/codesign"
	"github.com/outrider-security/sentinel/internal/config"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
	"github.com/outrider-security/sentinel/internal/sockets"
)

const scannerID = "netwatch.network_behavior"

type bucketKey struct {
	process string
	remote  string
}

type bucket struct {
	records  []model.ConnectionRecord
	lastSeen int64 // unix nanos of the most recent record, used for LRU eviction
}

// Analyzer accumulates per-(process, remote) connection history and
// evaluates it for C2-style beaconing. One Analyzer is shared across a
// scan; live ingestion via Record and the one-shot Scan path both feed
// the same bucket map guarded by mu, the other mutex-holding component in
// the core besides the code-signing validator's cache.
type Analyzer struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	cfg config.BeaconingConfig

	Validator *codesign.Validator

	C2Ports                []int
	CloudC2Hosts           []string
	DeadDropHosts          []string
	KnownBrowserSigningIDs []string
	KnownBrowserNames      []string
}

// New builds an Analyzer from the beaconing tunables and the data tables
// it consumes for single-record classification.
func New(cfg config.BeaconingConfig, tables config.Tables, validator *codesign.Validator) *Analyzer {
	return &Analyzer{
		buckets:                make(map[bucketKey]*bucket),
		cfg:                    cfg,
		Validator:              validator,
		C2Ports:                tables.C2Ports,
		CloudC2Hosts:           tables.CloudC2Hosts,
		DeadDropHosts:          tables.DeadDropHosts,
		KnownBrowserSigningIDs: tables.KnownBrowserSigningIDs,
		KnownBrowserNames:      tables.KnownBrowserNames,
	}
}

func (a *Analyzer) bucketCapacity() int {
	if a.cfg.BucketCapacity > 0 {
		return a.cfg.BucketCapacity
	}
	return 200
}

func (a *Analyzer) maxBuckets() int {
	if a.cfg.MaxBuckets > 0 {
		return a.cfg.MaxBuckets
	}
	return 500
}

// Record ingests one observed connection. remote may be an IP literal or
// a resolved hostname; private-network addresses are filtered out before
// they ever enter the bucket map.
func (a *Analyzer) Record(process string, pid int, remote string, port int, ts time.Time) {
	if remote == "" || isPrivateAddress(remote) {
		return
	}
	key := bucketKey{process: process, remote: remote}

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[key]
	if !ok {
		if len(a.buckets) >= a.maxBuckets() {
			a.evictOldestLocked()
		}
		b = &bucket{}
		a.buckets[key] = b
	}

	rec := model.ConnectionRecord{Timestamp: ts.UnixNano(), PID: pid, RemoteIP: remote, RemotePort: port}
	b.records = append(b.records, rec)
	if cap := a.bucketCapacity(); len(b.records) > cap {
		b.records = b.records[len(b.records)-cap:]
	}
	b.lastSeen = rec.Timestamp
}

// evictOldestLocked drops the bucket with the oldest lastSeen timestamp.
// Callers must hold mu.
func (a *Analyzer) evictOldestLocked() {
	var oldestKey bucketKey
	oldestTime := int64(math.MaxInt64)
	found := false
	for k, b := range a.buckets {
		if !found || b.lastSeen < oldestTime {
			oldestKey, oldestTime, found = k, b.lastSeen, true
		}
	}
	if found {
		delete(a.buckets, oldestKey)
	}
}

// BucketCount returns the current number of tracked (process, remote)
// buckets, exposed for the telemetry gauge.
func (a *Analyzer) BucketCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// NetworkBehaviorProbe adapts an Analyzer to the probe.Probe interface for
// a one-shot scan, supplying the live socket table the registry itself
// does not know about.
type NetworkBehaviorProbe struct {
	Analyzer *Analyzer
	FDTable  platform.FDTable
}

func (p *NetworkBehaviorProbe) Name() string { return scannerID }

func (p *NetworkBehaviorProbe) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	return p.Analyzer.Scan(ctx, snap, p.FDTable)
}

// Scan performs a one-shot pull of live sockets from table, records each
// as a connection, runs the single-record classifiers over them, and then
// evaluates the full bucket history for beaconing.
func (a *Analyzer) Scan(ctx context.Context, snap *snapshot.Snapshot, table platform.FDTable) ([]model.Anomaly, error) {
	entries, err := sockets.Enumerate(ctx, snap, table)
	if err != nil {
		return nil, fmt.Errorf("netwatch: scan: %w", err)
	}

	now := time.Now()
	var anomalies []model.Anomaly
	for _, e := range entries {
		if e.RemoteIP == "" {
			continue
		}
		a.Record(e.ProcessName, e.PID, e.RemoteIP, e.RemotePort, now)
		anomalies = append(anomalies, a.classifySingle(snap, e)...)
	}

	anomalies = append(anomalies, a.DetectBeaconing()...)
	return anomalies, nil
}

func (a *Analyzer) classifySingle(snap *snapshot.Snapshot, e model.SocketEntry) []model.Anomaly {
	if isPrivateAddress(e.RemoteIP) {
		return nil
	}
	var out []model.Anomaly
	subject := model.ProcessSubject(e.PID, e.ProcessName, snap.Path(e.PID))

	if ip := net.ParseIP(e.RemoteIP); ip != nil && e.RemotePort > 1024 {
		out = append(out, model.NewProcessAnomaly(scannerID, "Raw IP Connection",
			fmt.Sprintf("%s connected directly to IP literal %s:%d with no resolved hostname",
				e.ProcessName, e.RemoteIP, e.RemotePort),
			model.SeverityMedium, "T1071", "socket_enumeration", subject,
			model.NewEvidence(
				model.Pair("remote_ip", e.RemoteIP),
				model.Pair("remote_port", strconv.Itoa(e.RemotePort)),
			)))
	}

	if containsInt(a.C2Ports, e.RemotePort) {
		out = append(out, model.NewProcessAnomaly(scannerID, "Connection To Known C2 Port",
			fmt.Sprintf("%s connected to %s:%d, a port carried in the C2-port table",
				e.ProcessName, e.RemoteIP, e.RemotePort),
			model.SeverityHigh, "T1571", "socket_enumeration", subject,
			model.NewEvidence(
				model.Pair("remote_ip", e.RemoteIP),
				model.Pair("remote_port", strconv.Itoa(e.RemotePort)),
			)))
	}

	if matchesAnySubstring(a.CloudC2Hosts, e.RemoteIP) || matchesAnySubstring(a.DeadDropHosts, e.RemoteIP) {
		if !a.isKnownBrowser(snap, e) {
			out = append(out, model.NewProcessAnomaly(scannerID, "Cloud C2/Exfiltration",
				fmt.Sprintf("%s connected to %s, matching a cloud-C2/dead-drop host pattern",
					e.ProcessName, e.RemoteIP),
				model.SeverityHigh, "T1102.002", "socket_enumeration", subject,
				model.NewEvidence(model.Pair("remote_host", e.RemoteIP))))
		}
	}

	return out
}

func (a *Analyzer) isKnownBrowser(snap *snapshot.Snapshot, e model.SocketEntry) bool {
	for _, name := range a.KnownBrowserNames {
		if strings.EqualFold(name, e.ProcessName) {
			return true
		}
	}
	if a.Validator == nil {
		return false
	}
	path := snap.Path(e.PID)
	if path == "" {
		return false
	}
	info, err := a.Validator.Validate(path)
	if err != nil {
		return false
	}
	for _, id := range a.KnownBrowserSigningIDs {
		if id == info.SigningID {
			return true
		}
	}
	return false
}

// DetectBeaconing evaluates every bucket with at least MinSampleCount
// records for C2-style regularity: inter-arrival intervals with a
// coefficient of variation under the configured threshold, and a mean
// interval between the configured bounds.
func (a *Analyzer) DetectBeaconing() []model.Anomaly {
	minSample := a.cfg.MinSampleCount
	if minSample <= 0 {
		minSample = 5
	}
	cvThreshold := a.cfg.CVThreshold
	if cvThreshold <= 0 {
		cvThreshold = 0.3
	}
	minInterval := a.cfg.MinInterval
	if minInterval <= 0 {
		minInterval = time.Second
	}
	maxInterval := a.cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 3600 * time.Second
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Anomaly
	for key, b := range a.buckets {
		if len(b.records) < minSample {
			continue
		}
		mean, stddev, ok := intervalStats(b.records)
		if !ok || mean <= 0 {
			continue
		}
		cv := stddev / mean
		if cv >= cvThreshold {
			continue
		}
		if mean <= minInterval.Seconds() || mean >= maxInterval.Seconds() {
			continue
		}

		pid := b.records[len(b.records)-1].PID
		subject := model.ProcessSubject(pid, key.process, "")
		out = append(out, model.NewProcessAnomaly(scannerID, "C2 Beaconing",
			fmt.Sprintf("%s -> %s shows %d connections with coefficient of variation %.3f over a %.1fs mean interval",
				key.process, key.remote, len(b.records), cv, mean),
			model.SeverityHigh, "T1071.001", "connection_history_analysis", subject,
			model.NewEvidence(
				model.Pair("remote", key.remote),
				model.Pair("sample_count", strconv.Itoa(len(b.records))),
				model.Pair("mean_interval_seconds", strconv.FormatFloat(mean, 'f', 2, 64)),
				model.Pair("coefficient_of_variation", strconv.FormatFloat(cv, 'f', 4, 64)),
			)))
	}
	return out
}

func intervalStats(records []model.ConnectionRecord) (mean, stddev float64, ok bool) {
	ts := make([]int64, len(records))
	for i, r := range records {
		ts[i] = r.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	n := len(ts) - 1
	if n < 1 {
		return 0, 0, false
	}
	intervals := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(ts[i+1]-ts[i]) / float64(time.Second)
		intervals[i] = d
		sum += d
	}
	mean = sum / float64(n)

	var sqDiff float64
	for _, v := range intervals {
		diff := v - mean
		sqDiff += diff * diff
	}
	stddev = math.Sqrt(sqDiff / float64(n))
	return mean, stddev, true
}

func isPrivateAddress(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		}
		return false
	}
	return len(ip) == net.IPv6len && ip[0] == 0xfd
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func matchesAnySubstring(patterns []string, s string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
