package behavior

import (
	"context"
	"testing"

	"github.com/outrider-security/sentinel/internal/platform"
	"github.com/outrider-security/sentinel/internal/snapshot"
)

type fakeProcessTable struct {
	entries []platform.ProcessEntry
}

func (f fakeProcessTable) List(ctx context.Context) ([]platform.ProcessEntry, error) {
	return f.entries, nil
}

func buildSnapshot(t *testing.T, entries []platform.ProcessEntry) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Capture(context.Background(), fakeProcessTable{entries: entries})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return snap
}
