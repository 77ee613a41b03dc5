package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/trackedvideo/internal/acquisition"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testAcquisition(t *testing.T) *acquisition.Acquisition {
	t.Helper()
	a, err := acquisition.New(acquisition.DefaultOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a.SetName("liver sweep")
	a.SetType(acquisition.TypeDoppler)
	a.SetDepth("12cm")
	for i := 0; i < 3; i++ {
		if err := a.AddFrame(acquisition.NewImage(16, 12, 1), acquisition.Translation(0, 0, float64(i)), 2+float64(i)); err != nil {
			t.Fatalf("AddFrame failed: %v", err)
		}
	}
	if err := a.SetLUTIndex(3); err != nil {
		t.Fatalf("SetLUTIndex failed: %v", err)
	}
	a.SetCalibration(acquisition.Scaling(0.2, 0.2, 1))
	return a
}

func TestOpen_Migrates(t *testing.T) {
	c := openTestCatalog(t)

	version, dirty, err := c.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != SchemaVersion || dirty {
		t.Errorf("version = %d dirty = %v, want %d clean", version, dirty, SchemaVersion)
	}

	if err := c.MigrateTo(1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	if version, _, _ = c.MigrateVersion(); version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}
	if err := c.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
}

func TestCatalog_PutGet(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	a := testAcquisition(t)

	rec := RecordFromAcquisition(a)
	rec.ExportDir = "/data/export"
	rec.FrameLogDir = "/data/log"
	if rec.FrameCount != 3 || rec.Width != 16 || rec.StartTime != 2 || rec.EndTime != 4 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := c.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, a.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	got.CreatedAt, got.UpdatedAt = time.Time{}, time.Time{}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalog_PutUpdatesKeepsCreated(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	rec := AcquisitionRecord{ID: "a1", Name: "first", Type: "B-Mode"}
	if err := c.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	clock = clock.Add(time.Minute)
	rec.Name = "renamed"
	if err := c.Put(ctx, rec); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := c.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", got.Name)
	}
	if !got.CreatedAt.Equal(time.Unix(1000, 0)) {
		t.Errorf("CreatedAt = %v, want the first insert time", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(clock) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, clock)
	}
}

func TestCatalog_ListDelete(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	base := time.Unix(0, 0)
	for i, id := range []string{"b", "a", "c"} {
		ts := base.Add(time.Duration(i) * time.Second)
		c.now = func() time.Time { return ts }
		if err := c.Put(ctx, AcquisitionRecord{ID: id, Type: "B-Mode"}); err != nil {
			t.Fatalf("Put(%s) failed: %v", id, err)
		}
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var ids []string
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := c.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestCatalog_PutRequiresID(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Put(context.Background(), AcquisitionRecord{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestRestore(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	src := testAcquisition(t)
	if err := c.Put(ctx, RecordFromAcquisition(src)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := c.Get(ctx, src.ID())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	dst, err := acquisition.New(acquisition.DefaultOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := Restore(dst, rec); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if dst.ID() != src.ID() || dst.Name() != "liver sweep" {
		t.Errorf("identity not restored: %s %q", dst.ID(), dst.Name())
	}
	if dst.Type() != acquisition.TypeDoppler || dst.Depth() != "12cm" {
		t.Errorf("metadata not restored: %v %q", dst.Type(), dst.Depth())
	}
	if dst.LUTIndex() != 3 {
		t.Errorf("LUTIndex = %d, want 3", dst.LUTIndex())
	}
	if dst.Calibration() != acquisition.Scaling(0.2, 0.2, 1) {
		t.Errorf("calibration not restored: %v", dst.Calibration())
	}
}
