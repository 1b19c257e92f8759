package netwatch

import (
	"context"
	"testing"
	"time"

	"github.com/outrider-security/sentinel/internal/config"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

type fakeProcessTable struct{ entries []platform.ProcessEntry }

func (f fakeProcessTable) List(ctx context.Context) ([]platform.ProcessEntry, error) {
	return f.entries, nil
}

type fakeFDTable struct{ byPID map[int][]platform.FDEntry }

func (f fakeFDTable) List(ctx context.Context, pid int) ([]platform.FDEntry, error) {
	return f.byPID[pid], nil
}

func buildSnapshot(t *testing.T, entries []platform.ProcessEntry) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Capture(context.Background(), fakeProcessTable{entries: entries})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return snap
}

func testCfg() config.BeaconingConfig {
	return config.BeaconingConfig{
		BucketCapacity: 200,
		MaxBuckets:     500,
		CVThreshold:    0.3,
		MinInterval:    time.Second,
		MaxInterval:    3600 * time.Second,
		MinSampleCount: 5,
	}
}

func TestRecordFiltersPrivateAddresses(t *testing.T) {
	a := New(testCfg(), config.Tables{}, nil)
	a.Record("curl", 100, "10.0.0.5", 443, time.Now())
	a.Record("curl", 100, "192.168.1.1", 443, time.Now())
	a.Record("curl", 100, "127.0.0.1", 443, time.Now())

	if len(a.buckets) != 0 {
		t.Fatalf("expected private addresses to be filtered, got %d buckets", len(a.buckets))
	}
}

func TestRecordEvictsOldestBucketWhenOverCapacity(t *testing.T) {
	cfg := testCfg()
	cfg.MaxBuckets = 2
	a := New(cfg, config.Tables{}, nil)

	base := time.Now()
	a.Record("p1", 1, "203.0.113.1", 443, base)
	a.Record("p2", 2, "203.0.113.2", 443, base.Add(time.Second))
	a.Record("p3", 3, "203.0.113.3", 443, base.Add(2*time.Second))

	if len(a.buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(a.buckets))
	}
	if _, ok := a.buckets[bucketKey{process: "p1", remote: "203.0.113.1"}]; ok {
		t.Errorf("expected oldest bucket (p1) to be evicted")
	}
}

func TestRecordCapsBucketAt200Records(t *testing.T) {
	a := New(testCfg(), config.Tables{}, nil)
	base := time.Now()
	for i := 0; i < 250; i++ {
		a.Record("curl", 100, "203.0.113.9", 443, base.Add(time.Duration(i)*time.Second))
	}
	b := a.buckets[bucketKey{process: "curl", remote: "203.0.113.9"}]
	if len(b.records) != 200 {
		t.Fatalf("records = %d, want 200", len(b.records))
	}
}

func TestDetectBeaconingFlagsRegularInterval(t *testing.T) {
	a := New(testCfg(), config.Tables{}, nil)
	base := time.Now()
	for i := 0; i < 10; i++ {
		a.Record("agent", 200, "203.0.113.50", 443, base.Add(time.Duration(i)*60*time.Second))
	}
	anomalies := a.DetectBeaconing()
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want 1", anomalies)
	}
	if anomalies[0].Technique != "C2 Beaconing" {
		t.Errorf("Technique = %q", anomalies[0].Technique)
	}
}

func TestDetectBeaconingIgnoresJitteryInterval(t *testing.T) {
	a := New(testCfg(), config.Tables{}, nil)
	base := time.Now()
	offsets := []int{0, 10, 45, 52, 130, 131, 260, 400, 401, 900}
	for _, o := range offsets {
		a.Record("agent", 200, "203.0.113.51", 443, base.Add(time.Duration(o)*time.Second))
	}
	anomalies := a.DetectBeaconing()
	if len(anomalies) != 0 {
		t.Fatalf("expected no beaconing anomaly for jittery interval, got %+v", anomalies)
	}
}

func TestDetectBeaconingRequiresMinimumSampleCount(t *testing.T) {
	a := New(testCfg(), config.Tables{}, nil)
	base := time.Now()
	for i := 0; i < 3; i++ {
		a.Record("agent", 200, "203.0.113.52", 443, base.Add(time.Duration(i)*60*time.Second))
	}
	if got := a.DetectBeaconing(); len(got) != 0 {
		t.Fatalf("expected no anomaly below min sample count, got %+v", got)
	}
}

func TestScanFlagsRawIPConnection(t *testing.T) {
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 300, Name: "nc", Path: "/tmp/nc"}})
	table := fakeFDTable{byPID: map[int][]platform.FDEntry{
		300: {{FD: 3, Type: "socket", Protocol: "TCP", RemoteIP: "203.0.113.77", RemotePort: 4444, TCPState: "ESTABLISHED"}},
	}}
	a := New(testCfg(), config.Tables{C2Ports: []int{4444}}, nil)
	anomalies, err := a.Scan(context.Background(), snap, table)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var sawRawIP, sawC2Port bool
	for _, an := range anomalies {
		switch an.Technique {
		case "Raw IP Connection":
			sawRawIP = true
		case "Connection To Known C2 Port":
			sawC2Port = true
		}
	}
	if !sawRawIP {
		t.Errorf("expected Raw IP Connection anomaly, got %+v", anomalies)
	}
	if !sawC2Port {
		t.Errorf("expected Connection To Known C2 Port anomaly, got %+v", anomalies)
	}
}

func TestScanIgnoresPrivateAddress(t *testing.T) {
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 301, Name: "curl"}})
	table := fakeFDTable{byPID: map[int][]platform.FDEntry{
		301: {{FD: 3, Type: "socket", Protocol: "TCP", RemoteIP: "192.168.1.50", RemotePort: 4444, TCPState: "ESTABLISHED"}},
	}}
	a := New(testCfg(), config.Tables{C2Ports: []int{4444}}, nil)
	anomalies, err := a.Scan(context.Background(), snap, table)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected private address to be filtered, got %+v", anomalies)
	}
}

func TestScanCloudC2SkipsKnownBrowserByName(t *testing.T) {
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 302, Name: "Safari"}})
	table := fakeFDTable{byPID: map[int][]platform.FDEntry{
		302: {{FD: 3, Type: "socket", Protocol: "TCP", RemoteIP: "203.0.113.200", RemotePort: 443, TCPState: "ESTABLISHED"}},
	}}
	a := New(testCfg(), config.Tables{
		CloudC2Hosts:      []string{"203.0.113.200"},
		KnownBrowserNames: []string{"Safari"},
	}, nil)
	anomalies, err := a.Scan(context.Background(), snap, table)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, an := range anomalies {
		if an.Technique == "Cloud C2/Exfiltration" {
			t.Fatalf("expected known browser to suppress Cloud C2 finding, got %+v", anomalies)
		}
	}
}

func TestScanCloudC2FlagsNonBrowserProcess(t *testing.T) {
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 303, Name: "agent"}})
	table := fakeFDTable{byPID: map[int][]platform.FDEntry{
		303: {{FD: 3, Type: "socket", Protocol: "TCP", RemoteIP: "203.0.113.201", RemotePort: 443, TCPState: "ESTABLISHED"}},
	}}
	a := New(testCfg(), config.Tables{DeadDropHosts: []string{"203.0.113.201"}}, nil)
	anomalies, err := a.Scan(context.Background(), snap, table)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var saw bool
	for _, an := range anomalies {
		if an.Technique == "Cloud C2/Exfiltration" {
			saw = true
		}
	}
	if !saw {
		t.Errorf("expected Cloud C2/Exfiltration anomaly, got %+v", anomalies)
	}
}

func TestNetworkBehaviorProbeImplementsProbeInterface(t *testing.T) {
	snap := buildSnapshot(t, []platform.ProcessEntry{{PID: 304, Name: "agent"}})
	table := fakeFDTable{byPID: map[int][]platform.FDEntry{
		304: {{FD: 3, Type: "socket", Protocol: "TCP", RemoteIP: "203.0.113.210", RemotePort: 4444, TCPState: "ESTABLISHED"}},
	}}
	p := &NetworkBehaviorProbe{
		Analyzer: New(testCfg(), config.Tables{C2Ports: []int{4444}}, nil),
		FDTable:  table,
	}
	if p.Name() == "" {
		t.Fatal("expected non-empty Name")
	}
	anomalies, err := p.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) == 0 {
		t.Fatal("expected at least one anomaly from the wrapped analyzer")
	}
}

func TestIsPrivateAddress(t *testing.T) {
	cases := map[string]bool{
		"10.0.0.1":       true,
		"172.16.0.1":     true,
		"172.32.0.1":     false,
		"192.168.0.1":    true,
		"127.0.0.1":      true,
		"::1":            true,
		"fe80::1":        true,
		"fd12:3456::1":   true,
		"203.0.113.5":    false,
		"not-an-address": false,
	}
	for addr, want := range cases {
		if got := isPrivateAddress(addr); got != want {
			t.Errorf("isPrivateAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}
