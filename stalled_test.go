package bullmq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/log"
	"github.com/nagyist/bullmq/internal/rdb"
)

func TestStalledCheckerRequeuesExpiredLock(t *testing.T) {
	client := newTestRedisClient(t)
	qname := "test-stalled-" + uuid.NewString()
	broker := rdb.NewRDB(client)
	defer func() {
		broker.Obliterate(context.Background(), qname, true)
		broker.Close()
	}()
	ctx := context.Background()

	id, _, err := broker.Add(ctx, qname, base.AddOptions{Name: "job"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	res, err := broker.MoveToActive(ctx, qname, uuid.NewString(), time.Millisecond, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job == nil || res.Job.ID != id {
		t.Fatal("expected the added job to be dispatched")
	}
	time.Sleep(50 * time.Millisecond) // let the 1ms lock expire

	c := newStalledChecker(stalledCheckerParams{
		logger:   log.NewLogger(nil),
		broker:   broker,
		qname:    qname,
		interval: time.Minute,
		maxCount: 3,
	})
	c.exec()

	_, state, err := broker.GetJob(ctx, qname, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if state != base.StateWaiting {
		t.Errorf("state after stalled sweep = %v, want StateWaiting (requeued)", state)
	}
}

func TestStalledCheckerTerminalFailureBoundaryWithZeroMaxStalledCount(t *testing.T) {
	client := newTestRedisClient(t)
	qname := "test-stalled-" + uuid.NewString()
	broker := rdb.NewRDB(client)
	defer func() {
		broker.Obliterate(context.Background(), qname, true)
		broker.Close()
	}()
	ctx := context.Background()

	id, _, err := broker.Add(ctx, qname, base.AddOptions{Name: "job"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	c := newStalledChecker(stalledCheckerParams{
		logger:   log.NewLogger(nil),
		broker:   broker,
		qname:    qname,
		interval: time.Minute,
		maxCount: 0,
	})

	// First dispatch (attemptsStarted=1), lock expires, one grace requeue.
	if _, err := broker.MoveToActive(ctx, qname, uuid.NewString(), time.Millisecond, nil); err != nil {
		t.Fatalf("MoveToActive (1st): %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	c.exec()

	rec, state, err := broker.GetJob(ctx, qname, id)
	if err != nil {
		t.Fatalf("GetJob after 1st sweep: %v", err)
	}
	if state != base.StateWaiting {
		t.Fatalf("state after grace requeue = %v, want StateWaiting", state)
	}
	if rec.StalledCounter != 1 {
		t.Fatalf("stalledCounter after grace requeue = %d, want 1", rec.StalledCounter)
	}

	// Second dispatch (attemptsStarted=2), lock expires again, now fails.
	if _, err := broker.MoveToActive(ctx, qname, uuid.NewString(), time.Millisecond, nil); err != nil {
		t.Fatalf("MoveToActive (2nd): %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	c.exec()

	rec, state, err = broker.GetJob(ctx, qname, id)
	if err != nil {
		t.Fatalf("GetJob after 2nd sweep: %v", err)
	}
	if state != base.StateFailed {
		t.Fatalf("state after 2nd sweep = %v, want StateFailed", state)
	}
	if rec.AttemptsStarted != 2 {
		t.Errorf("attemptsStarted = %d, want 2", rec.AttemptsStarted)
	}
	if rec.AttemptsMade != 1 {
		t.Errorf("attemptsMade = %d, want 1", rec.AttemptsMade)
	}
	if rec.StalledCounter != 1 {
		t.Errorf("stalledCounter = %d, want 1", rec.StalledCounter)
	}
	if rec.FailedReason != "job stalled more than allowable limit" {
		t.Errorf("failedReason = %q, want the stalled-limit message", rec.FailedReason)
	}
}

func TestStalledCheckerOnlyOneLeaseHolderPerInterval(t *testing.T) {
	client := newTestRedisClient(t)
	qname := "test-stalled-" + uuid.NewString()
	broker := rdb.NewRDB(client)
	defer func() {
		broker.Obliterate(context.Background(), qname, true)
		broker.Close()
	}()

	first, err := broker.AcquireStalledCheckLease(context.Background(), qname, time.Minute)
	if err != nil {
		t.Fatalf("AcquireStalledCheckLease: %v", err)
	}
	if !first {
		t.Fatal("expected the first lease acquisition to succeed")
	}
	second, err := broker.AcquireStalledCheckLease(context.Background(), qname, time.Minute)
	if err != nil {
		t.Fatalf("AcquireStalledCheckLease (second): %v", err)
	}
	if second {
		t.Fatal("expected a concurrent lease acquisition within the same interval to fail")
	}
}

func TestStalledCheckerShutdownStopsGoroutine(t *testing.T) {
	c := newStalledChecker(stalledCheckerParams{logger: log.NewLogger(nil), broker: nil, qname: "q", interval: time.Hour})
	var wg sync.WaitGroup
	c.start(&wg)
	c.shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to stop the stalled checker goroutine")
	}
}
