package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardmint/internal/queue"
	"cardmint/internal/services"
	"cardmint/internal/testsupport"
)

type countingPurger struct {
	pending int
	calls   int
}

func (p *countingPurger) Purge(context.Context) (int, error) {
	p.calls++
	removed := p.pending
	p.pending = 0
	return removed, nil
}

func claimJob(t *testing.T, store *queue.Store, worker string) *queue.ScanJob {
	t.Helper()
	job, err := store.ClaimNextPending(context.Background(), worker, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextPending failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job
}

func TestRecoverResume(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	testsupport.NewJob(t, store, queue.NewJob{ID: "with-image", RawImagePath: "/raw.jpg"})
	clock.Advance(time.Millisecond)
	testsupport.NewJob(t, store, queue.NewJob{ID: "no-image"})
	clock.Advance(time.Millisecond)
	testsupport.NewJob(t, store, queue.NewJob{ID: "has-error"})
	clock.Advance(time.Millisecond)
	testsupport.NewJob(t, store, queue.NewJob{ID: "pending"})
	clock.Advance(time.Millisecond)

	for _, worker := range []string{"w1", "w2", "w3", "w4"} {
		claimJob(t, store, worker)
	}
	if err := store.UpdateError(ctx, "has-error", "CLASSIFIER_DOWN", "connection refused"); err != nil {
		t.Fatalf("UpdateError failed: %v", err)
	}
	if err := store.UpdateStatus(ctx, "pending", queue.StatusOperatorPending, nil); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	report, err := store.Recover(ctx, queue.RecoveryResume, queue.RecoveryOptions{})
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if report.Requeued != 3 || report.LeasesCleared != 1 || report.Deleted != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}

	expect := map[string]queue.Status{
		"with-image": queue.StatusCaptured,
		"no-image":   queue.StatusQueued,
		"has-error":  queue.StatusQueued,
		"pending":    queue.StatusOperatorPending,
	}
	for id, status := range expect {
		job, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) failed: %v", id, err)
		}
		if job.Status != status {
			t.Fatalf("%s: expected %s, got %s", id, status, job.Status)
		}
		if job.HasLease() || job.ProcessorID != "" || job.LockedAt != nil {
			t.Fatalf("%s: expected lease cleared", id)
		}
	}

	stamped, _ := store.GetByID(ctx, "with-image")
	if stamped.ErrorCode != queue.RecoveredErrorCode || stamped.ErrorMessage != queue.RecoveredErrorMessage {
		t.Fatalf("expected recovery error stamp, got %q %q", stamped.ErrorCode, stamped.ErrorMessage)
	}
	kept, _ := store.GetByID(ctx, "has-error")
	if kept.ErrorCode != "CLASSIFIER_DOWN" || kept.ErrorMessage != "connection refused" {
		t.Fatalf("existing error must be kept, got %q %q", kept.ErrorCode, kept.ErrorMessage)
	}

	history, _ := store.History(ctx, "with-image")
	last := history[len(history)-1]
	if last.Actor != "recovery" || last.Status != queue.StatusCaptured {
		t.Fatalf("unexpected recovery history: %#v", last)
	}

	again, err := store.Recover(ctx, queue.RecoveryResume, queue.RecoveryOptions{})
	if err != nil {
		t.Fatalf("second Recover failed: %v", err)
	}
	if again.Changed() {
		t.Fatalf("second resume run should change nothing: %#v", again)
	}
}

func TestRecoverResumeNeverDeletes(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	createJobs(t, store, clock, 3)
	claimJob(t, store, "w1")
	purger := &countingPurger{pending: 5}

	if _, err := store.Recover(ctx, queue.RecoveryResume, queue.RecoveryOptions{Intake: purger}); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	all, _ := store.List(ctx)
	if len(all) != 3 {
		t.Fatalf("resume must keep every job, got %d", len(all))
	}
	if purger.calls != 0 {
		t.Fatal("resume must not purge intake")
	}
}

func TestRecoverDestructive(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	testsupport.NewJob(t, store, queue.NewJob{ID: "queued", SessionID: session.ID})
	clock.Advance(time.Millisecond)
	testsupport.NewJob(t, store, queue.NewJob{ID: "inflight", SessionID: session.ID})
	clock.Advance(time.Millisecond)
	testsupport.NewJob(t, store, queue.NewJob{ID: "accepted", SessionID: session.ID})
	clock.Advance(time.Millisecond)

	if err := store.UpdateStatus(ctx, "accepted", queue.StatusOperatorPending, nil); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := store.AcceptForBaselineOnly(ctx, "accepted", queue.TruthCore{Name: "Snorlax"}); err != nil {
		t.Fatalf("AcceptForBaselineOnly failed: %v", err)
	}
	claimJob(t, store, "w1")

	purger := &countingPurger{pending: 3}
	report, err := store.Recover(ctx, queue.RecoveryDestructive, queue.RecoveryOptions{Intake: purger})
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if report.Deleted != 2 || report.SessionsTerminated != 1 || report.ArtifactsRemoved != 3 {
		t.Fatalf("unexpected report: %#v", report)
	}

	if _, err := store.GetByID(ctx, "queued"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected queued job deleted, got %v", err)
	}
	if history, _ := store.History(ctx, "inflight"); len(history) != 0 {
		t.Fatalf("expected deleted job history removed, got %d rows", len(history))
	}
	if _, err := store.GetByID(ctx, "accepted"); err != nil {
		t.Fatalf("accepted job must survive: %v", err)
	}
	ended, _ := store.GetSession(ctx, session.ID)
	if ended.Status != queue.SessionAborted || ended.EndedAt == nil {
		t.Fatalf("expected aborted session, got %#v", ended)
	}

	again, err := store.Recover(ctx, queue.RecoveryDestructive, queue.RecoveryOptions{Intake: purger})
	if err != nil {
		t.Fatalf("second Recover failed: %v", err)
	}
	if again.Changed() {
		t.Fatalf("second destructive run should change nothing: %#v", again)
	}
}

func TestRecoverRejectsUnknownPolicy(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Recover(context.Background(), queue.RecoveryPolicy("panic"), queue.RecoveryOptions{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := queue.ParseRecoveryPolicy("Destructive"); err != nil {
		t.Fatalf("ParseRecoveryPolicy failed: %v", err)
	}
}

func TestSessions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "bob")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	active, _ := store.ListSessions(ctx, queue.SessionActive)
	if len(active) != 1 || active[0].Operator != "bob" {
		t.Fatalf("unexpected active sessions: %#v", active)
	}
	if err := store.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := store.EndSession(ctx, session.ID); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition ending twice, got %v", err)
	}
	if err := store.EndSession(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
