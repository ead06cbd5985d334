package base

import (
	"context"
	"testing"
	"time"
)

func TestCancelationsAddGetDelete(t *testing.T) {
	c := NewCancelations()
	if _, ok := c.Get("job-1"); ok {
		t.Fatal("expected no cancel func registered yet")
	}

	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	wrapped := func() {
		cancelled = true
		cancel()
	}
	c.Add("job-1", wrapped)

	fn, ok := c.Get("job-1")
	if !ok {
		t.Fatal("expected cancel func to be registered")
	}
	fn()
	if !cancelled {
		t.Fatal("expected the registered func to have run")
	}

	c.Delete("job-1")
	if _, ok := c.Get("job-1"); ok {
		t.Fatal("expected cancel func to be gone after Delete")
	}
}

func TestCancelationsCancelAll(t *testing.T) {
	c := NewCancelations()
	var fired [3]bool
	for i := 0; i < 3; i++ {
		i := i
		c.Add(string(rune('a'+i)), func() { fired[i] = true })
	}
	c.CancelAll()
	for i, f := range fired {
		if !f {
			t.Errorf("cancel func %d was not invoked by CancelAll", i)
		}
	}
}

func TestLockIsValidAndReset(t *testing.T) {
	lock := NewLock(time.Now().Add(10 * time.Millisecond))
	if !lock.IsValid() {
		t.Fatal("expected a freshly created lock with a future deadline to be valid")
	}

	if !lock.Reset(time.Now().Add(time.Hour)) {
		t.Fatal("expected Reset on a still-valid lock to succeed")
	}
	if lock.Deadline().Before(time.Now().Add(time.Minute)) {
		t.Fatal("expected Deadline to reflect the Reset extension")
	}
}

func TestLockExpireNotifiesLost(t *testing.T) {
	lock := NewLock(time.Now().Add(time.Hour))
	if !lock.IsValid() {
		t.Fatal("expected lock to be valid before Expire")
	}

	lock.Expire()

	select {
	case <-lock.Lost():
	default:
		t.Fatal("expected Lost() channel to be closed after Expire")
	}
	if lock.IsValid() {
		t.Fatal("expected lock to be invalid after Expire")
	}
}

func TestLockResetFailsAfterExpiry(t *testing.T) {
	lock := NewLock(time.Now().Add(-time.Second))
	if lock.IsValid() {
		t.Fatal("expected a lock created with a past deadline to be invalid")
	}
	if lock.Reset(time.Now().Add(time.Hour)) {
		t.Fatal("expected Reset to fail on an already-expired lock")
	}
}

func TestLockNotifyLostIsIdempotent(t *testing.T) {
	lock := NewLock(time.Now().Add(-time.Second))
	if !lock.NotifyLost() {
		t.Fatal("expected first NotifyLost on an expired lock to succeed")
	}
	if !lock.NotifyLost() {
		t.Fatal("expected a repeat NotifyLost call to remain a no-op success, not fail")
	}
}
