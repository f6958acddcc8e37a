package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cardmint/internal/queue"
	"cardmint/internal/services"
	"cardmint/internal/testsupport"
)

// These tests run against a real PostgreSQL server when
// CARDMINT_TEST_POSTGRES_DSN is set and are skipped otherwise.

func TestPostgresClaimAtMostOneLease(t *testing.T) {
	store, clock := newTestStore(t, testsupport.WithPostgres())
	ctx := context.Background()
	const jobCount = 16
	createJobs(t, store, clock, jobCount)

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		workerID := fmt.Sprintf("pg-worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNextPending(ctx, workerID, time.Hour)
				if err != nil {
					t.Errorf("ClaimNextPending failed: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Fatalf("expected %d claims, got %d", jobCount, len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestPostgresTransitionsAndRecovery(t *testing.T) {
	store, clock := newTestStore(t, testsupport.WithPostgres())
	ctx := context.Background()

	testsupport.NewJob(t, store, queue.NewJob{ID: "pg-J1", RawImagePath: "/raw.jpg", Timings: queue.Timings{"a": 1}})
	clock.Advance(time.Millisecond)
	testsupport.NewJob(t, store, queue.NewJob{ID: "pg-J2"})

	if err := store.UpdateTimings(ctx, "pg-J1", queue.Timings{"b": 2}); err != nil {
		t.Fatalf("UpdateTimings failed: %v", err)
	}
	if err := store.AppendCameraControl(ctx, "pg-J1", queue.CameraControl{Control: "iso", Value: "200"}); err != nil {
		t.Fatalf("AppendCameraControl failed: %v", err)
	}
	if err := store.UpdateStatus(ctx, "pg-J1", queue.StatusOperatorPending, nil); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := store.MarkBackReady(ctx, "pg-J1"); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := store.LockFront(ctx, "pg-J1"); err != nil {
		t.Fatalf("LockFront failed: %v", err)
	}
	if err := store.MarkBackReady(ctx, "pg-J1"); err != nil {
		t.Fatalf("MarkBackReady failed: %v", err)
	}
	if err := store.AcceptWithTruthCoreAndInventory(ctx, "pg-J1", queue.TruthCore{Name: "Lapras"}, queue.InventoryResult{ItemUID: "X"}, nil); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	accepted, _ := store.GetByID(ctx, "pg-J1")
	if accepted.Status != queue.StatusAccepted || accepted.Timings["b"] != 2 || len(accepted.CameraControls) != 1 {
		t.Fatalf("unexpected accepted job: %#v", accepted)
	}

	claimJob(t, store, "pg-w1")
	report, err := store.Recover(ctx, queue.RecoveryResume, queue.RecoveryOptions{})
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if report.Requeued != 1 {
		t.Fatalf("expected one requeued job, got %#v", report)
	}
	if depth, _ := store.QueueDepth(ctx); depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}

	if _, err := store.Create(ctx, queue.NewJob{ID: "pg-J1"}); !errors.Is(err, queue.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
