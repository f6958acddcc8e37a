package export_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"cardmint/internal/export"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/testsupport"
)

func TestJobsXLSX(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewJob(t, store, queue.NewJob{ID: "J1", CaptureUID: "cap-1", RawImagePath: "/captures/J1.jpg"})
	testsupport.NewJob(t, store, queue.NewJob{ID: "J2", CaptureUID: "cap-2"})
	if err := store.UpdateStatus(ctx, "J2", queue.StatusFailed, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := store.UpdateError(ctx, "J2", "CLASSIFIER_FAILED", "timeout"); err != nil {
		t.Fatalf("UpdateError: %v", err)
	}

	svc := export.NewService(store, logging.NewNop())
	data, rows, err := svc.JobsXLSX(ctx)
	if err != nil {
		t.Fatalf("JobsXLSX: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 rows, got %d", rows)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheetRows, err := f.GetRows("Jobs")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(sheetRows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(sheetRows))
	}
	if sheetRows[0][0] != "Job ID" || sheetRows[0][3] != "Status" {
		t.Fatalf("unexpected header: %v", sheetRows[0])
	}
	if sheetRows[1][0] != "J1" || sheetRows[1][3] != string(queue.StatusQueued) {
		t.Fatalf("unexpected first row: %v", sheetRows[1])
	}
	if got := sheetRows[2][15]; got != "CLASSIFIER_FAILED" {
		t.Fatalf("expected error code column, got %q", got)
	}

	failedOnly, rows, err := svc.JobsXLSX(ctx, queue.StatusFailed)
	if err != nil || rows != 1 || len(failedOnly) == 0 {
		t.Fatalf("expected one failed row, got rows=%d err=%v", rows, err)
	}
}
