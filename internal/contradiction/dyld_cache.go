package contradiction

import (
	"context"
	"fmt"

	"github.com/outrider-security/sentinel/internal/dyldcache"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

// DyldCache cross-references three views of the shared cache's identity:
// the on-disk header UUID, the UUID the runtime's own dyld reports for
// itself, and the UUID read back from the cache range mapped into this
// process. Any pairwise mismatch is tampering (spec.md §4.9).
type DyldCache struct {
	Runtime   platform.DyldCacheRuntime
	Locations []string
}

func (d *DyldCache) Name() string { return "contradiction.dyld_cache" }

func (d *DyldCache) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]model.Anomaly, error) {
	if d.Runtime == nil {
		return nil, nil
	}

	locations := d.Locations
	if locations == nil {
		locations = dyldcache.DefaultLocations
	}
	path, hdr, err := dyldcache.Discover(locations)
	if err != nil {
		return nil, nil // no cache file reachable; not itself an anomaly
	}

	runtimeUUID, runtimeErr := d.Runtime.RuntimeReportedUUID(ctx)
	mappedUUID, mappedErr := d.Runtime.MappedCacheUUID(ctx)

	var anomalies []model.Anomaly
	if runtimeErr == nil && hdr.UUID != runtimeUUID {
		anomalies = append(anomalies, d.mismatch(path, "disk_uuid", "runtime_uuid", hdr.UUID, runtimeUUID))
	}
	if mappedErr == nil && hdr.UUID != mappedUUID {
		anomalies = append(anomalies, d.mismatch(path, "disk_uuid", "mapped_uuid", hdr.UUID, mappedUUID))
	}
	if runtimeErr == nil && mappedErr == nil && runtimeUUID != mappedUUID {
		anomalies = append(anomalies, d.mismatch(path, "runtime_uuid", "mapped_uuid", runtimeUUID, mappedUUID))
	}
	return anomalies, nil
}

func (d *DyldCache) mismatch(path, aKey, bKey string, a, b [16]byte) model.Anomaly {
	subject := model.FilesystemSubject("dyld shared cache", path)
	ev := model.NewEvidence(
		model.Pair(aKey, fmt.Sprintf("%x", a)),
		model.Pair(bKey, fmt.Sprintf("%x", b)),
	)
	return model.NewFilesystemAnomaly(d.Name(), "Shared Cache Tampering",
		fmt.Sprintf("dyld shared cache %s disagrees between %s and %s", path, aKey, bKey),
		model.SeverityCritical, "T1055", "dyld_cache_header+dyld_runtime_introspection", subject, ev)
}
