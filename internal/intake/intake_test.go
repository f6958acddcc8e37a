package intake_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cardmint/internal/intake"
	"cardmint/internal/queue"
	"cardmint/internal/testsupport"
)

func TestPendingListsImagesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	older := testsupport.WriteImage(t, dir, "b.jpg")
	newer := testsupport.WriteImage(t, dir, "a.PNG")
	testsupport.WriteImage(t, dir, ".hidden.jpg")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, base, base); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(newer, base.Add(time.Minute), base.Add(time.Minute)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	source := intake.NewDirSource(dir, nil)
	paths, err := source.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != older || paths[1] != newer {
		t.Fatalf("unexpected pending list %v", paths)
	}
}

func TestPendingMissingDirIsEmpty(t *testing.T) {
	source := intake.NewDirSource(filepath.Join(t.TempDir(), "absent"), nil)
	paths, err := source.Pending(context.Background())
	if err != nil || len(paths) != 0 {
		t.Fatalf("expected empty result, got %v, %v", paths, err)
	}
	removed, err := source.Purge(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op purge, got %d, %v", removed, err)
	}
}

func TestIngestCreatesCapturedJobsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.WriteImage(t, cfg.Paths.IntakeDir, "card-1.jpg")
	testsupport.WriteImage(t, cfg.Paths.IntakeDir, "card-2.jpg")
	source := intake.NewDirSource(cfg.Paths.IntakeDir, nil)

	created, err := source.Ingest(ctx, store, "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(created))
	}
	for _, job := range created {
		if job.Status != queue.StatusCaptured || job.RawImagePath == "" {
			t.Fatalf("unexpected job %#v", job)
		}
	}

	again, err := source.Ingest(ctx, store, "")
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected duplicates skipped, got %d", len(again))
	}
	depth, err := store.QueueDepth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("expected depth 2, got %d, %v", depth, err)
	}
}

func TestPurgeRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteImage(t, dir, "a.jpg")
	testsupport.WriteImage(t, filepath.Join(dir, "nested"), "b.jpg")

	source := intake.NewDirSource(dir, nil)
	removed, err := source.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty inbox, found %d entries", len(entries))
	}
}

func TestIngestMovesImagesIntoCaptureDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	inboxPath := testsupport.WriteImage(t, cfg.Paths.IntakeDir, "card-7.jpg")
	source := intake.NewDirSource(cfg.Paths.IntakeDir, nil, intake.WithCaptureDir(cfg.CaptureDir()))

	created, err := source.Ingest(ctx, store, "")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 job, got %d", len(created))
	}
	want := filepath.Join(cfg.CaptureDir(), "card-7.jpg")
	if created[0].RawImagePath != want || created[0].CaptureUID != "intake:card-7.jpg" {
		t.Fatalf("unexpected job %#v", created[0])
	}
	if _, err := os.Stat(inboxPath); !os.IsNotExist(err) {
		t.Fatalf("expected inbox image moved, stat err=%v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected capture image present: %v", err)
	}

	removed, err := source.Purge(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("expected purge to leave captures alone, got %d, %v", removed, err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("capture image removed by purge: %v", err)
	}
}
