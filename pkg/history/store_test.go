package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nodesync/nodesync/pkg/provision"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	recs := []provision.Record{
		{RunID: "r1", Hostname: "web01", OS: "centos", Outcome: provision.OutcomeProvisioned, NodeID: 100, Created: true, ScanJobID: 555, Duration: 1200 * time.Millisecond, At: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
		{RunID: "r2", Hostname: "web02", OS: "windows", Outcome: provision.OutcomeQueuedOffline, At: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)},
		{RunID: "r3", Hostname: "web01", OS: "centos", Outcome: provision.OutcomeFailed, Error: "boom", Replayed: true, At: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)},
	}
	for _, rec := range recs {
		if err := store.RecordProvision(ctx, rec); err != nil {
			t.Fatalf("RecordProvision(%s) error = %v", rec.RunID, err)
		}
	}

	all, err := store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() = %d rows, want 3", len(all))
	}
	// Newest first.
	if all[0].RunID != "r3" || all[2].RunID != "r1" {
		t.Errorf("order = %s..%s, want r3..r1", all[0].RunID, all[2].RunID)
	}
	if all[0].Outcome != provision.OutcomeFailed || all[0].Error != "boom" || !all[0].Replayed {
		t.Errorf("r3 = %+v", all[0])
	}
	if all[2].NodeID != 100 || !all[2].Created || all[2].ScanJobID != 555 || all[2].Duration != 1200*time.Millisecond {
		t.Errorf("r1 = %+v", all[2])
	}
}

func TestListFiltersByHostname(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, host := range []string{"web01", "web02", "web01"} {
		if err := store.RecordProvision(ctx, provision.Record{
			RunID: host, Hostname: host, Outcome: provision.OutcomeProvisioned,
			At: time.Now().UTC(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.List(ctx, "web01", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("List(web01) = %d rows, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Hostname != "web01" {
			t.Errorf("hostname = %q, want web01", rec.Hostname)
		}
	}
}

func TestListLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.RecordProvision(ctx, provision.Record{
			RunID: "r", Hostname: "web01", Outcome: provision.OutcomeProvisioned,
			At: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("List() = %d rows, want 2", len(recs))
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Error("Open with empty path should fail")
	}
}
