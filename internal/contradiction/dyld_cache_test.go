package contradiction

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeDyldCacheRuntime struct {
	runtime [16]byte
	mapped  [16]byte
	err     error
}

func (f fakeDyldCacheRuntime) RuntimeReportedUUID(ctx context.Context) ([16]byte, error) {
	return f.runtime, f.err
}

func (f fakeDyldCacheRuntime) MappedCacheUUID(ctx context.Context) ([16]byte, error) {
	return f.mapped, f.err
}

func writeFakeCache(t *testing.T, uuid [16]byte) string {
	t.Helper()
	const uuidOffset = 0x58
	buf := make([]byte, uuidOffset+16)
	copy(buf[0:7], []byte("dyld_v1"))
	copy(buf[7:16], []byte(" arm64e"))
	copy(buf[uuidOffset:uuidOffset+16], uuid[:])

	path := filepath.Join(t.TempDir(), "dyld_shared_cache_arm64e")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestDyldCacheDiskRuntimeMismatch(t *testing.T) {
	diskUUID := [16]byte{1, 1, 1, 1}
	runtimeUUID := [16]byte{2, 2, 2, 2}
	path := writeFakeCache(t, diskUUID)

	probe := &DyldCache{
		Runtime:   fakeDyldCacheRuntime{runtime: runtimeUUID, mapped: diskUUID},
		Locations: []string{path},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var found bool
	for _, a := range anomalies {
		if a.Technique == "Shared Cache Tampering" && a.Evidence.Get("disk_uuid") != "" && a.Evidence.Get("runtime_uuid") != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Shared Cache Tampering anomaly, got %+v", anomalies)
	}
}

func TestDyldCacheAllSourcesAgreeYieldsNoAnomaly(t *testing.T) {
	uuid := [16]byte{7, 7, 7, 7}
	path := writeFakeCache(t, uuid)

	probe := &DyldCache{
		Runtime:   fakeDyldCacheRuntime{runtime: uuid, mapped: uuid},
		Locations: []string{path},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies when all sources agree, got %+v", anomalies)
	}
}

func TestDyldCacheRuntimeErrorIsNotAnomaly(t *testing.T) {
	uuid := [16]byte{3, 3, 3, 3}
	path := writeFakeCache(t, uuid)

	probe := &DyldCache{
		Runtime:   fakeDyldCacheRuntime{err: errUnsupportedFixture{}},
		Locations: []string{path},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies when runtime sources are unavailable, got %+v", anomalies)
	}
}

type errUnsupportedFixture struct{}

func (errUnsupportedFixture) Error() string { return "unsupported" }

func TestDyldCacheNoCacheFileFoundIsNotAnomaly(t *testing.T) {
	probe := &DyldCache{
		Runtime:   fakeDyldCacheRuntime{},
		Locations: []string{filepath.Join(t.TempDir(), "missing")},
	}
	snap := buildSnapshot(t, nil)

	anomalies, err := probe.Scan(context.Background(), snap)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies when no cache file is reachable, got %+v", anomalies)
	}
}
