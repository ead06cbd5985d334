package bullmq

import (
	"testing"
	"time"
)

func TestJobOptionsWithDefaults(t *testing.T) {
	defaults := JobOptions{
		Delay:            time.Minute,
		Priority:         5,
		Attempts:         3,
		StackTraceLimit:  10,
		GroupKey:         "tenant-a",
		RemoveOnComplete: &RemoveOnTerminate{Always: true},
	}

	got := JobOptions{JobID: "explicit-id"}.withDefaults(defaults)

	if got.Delay != defaults.Delay {
		t.Errorf("Delay = %v, want %v", got.Delay, defaults.Delay)
	}
	if got.Priority != defaults.Priority {
		t.Errorf("Priority = %v, want %v", got.Priority, defaults.Priority)
	}
	if got.Attempts != defaults.Attempts {
		t.Errorf("Attempts = %v, want %v", got.Attempts, defaults.Attempts)
	}
	if got.GroupKey != defaults.GroupKey {
		t.Errorf("GroupKey = %v, want %v", got.GroupKey, defaults.GroupKey)
	}
	if got.RemoveOnComplete != defaults.RemoveOnComplete {
		t.Errorf("RemoveOnComplete = %v, want the default pointer preserved", got.RemoveOnComplete)
	}
	if got.JobID != "explicit-id" {
		t.Errorf("JobID = %q, want the caller's explicit id to be kept", got.JobID)
	}
}

func TestJobOptionsWithDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	explicit := JobOptions{Delay: 5 * time.Second, Priority: 1, Attempts: 7}
	got := explicit.withDefaults(JobOptions{Delay: time.Hour, Priority: 99, Attempts: 50})

	if got.Delay != 5*time.Second || got.Priority != 1 || got.Attempts != 7 {
		t.Errorf("withDefaults overrode explicitly set fields: got %+v", got)
	}
}

func TestJobOptionsWithDefaultsNeverDefaultsJobIDOrRepeat(t *testing.T) {
	defaults := JobOptions{
		JobID:  "should-never-apply",
		Repeat: &RepeatOptions{Pattern: "0 0 * * *"},
	}
	got := JobOptions{}.withDefaults(defaults)
	if got.JobID != "" {
		t.Errorf("JobID = %q, want empty (JobID must never be defaulted)", got.JobID)
	}
	if got.Repeat != nil {
		t.Error("Repeat must never be defaulted")
	}
}

func TestWorkerOptionsWithDefaults(t *testing.T) {
	out := (&WorkerOptions{}).withDefaults()
	if out.Concurrency != defaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", out.Concurrency, defaultConcurrency)
	}
	if out.LockDuration != defaultLockDuration {
		t.Errorf("LockDuration = %v, want %v", out.LockDuration, defaultLockDuration)
	}
	if out.LockRenewTime != out.LockDuration/2 {
		t.Errorf("LockRenewTime = %v, want half of LockDuration (%v)", out.LockRenewTime, out.LockDuration/2)
	}
	if out.MaxStalledCount != defaultMaxStalledCount {
		t.Errorf("MaxStalledCount = %d, want %d", out.MaxStalledCount, defaultMaxStalledCount)
	}
}

func TestWorkerOptionsWithDefaultsPreservesExplicitLockRenewTime(t *testing.T) {
	out := (&WorkerOptions{LockDuration: time.Minute, LockRenewTime: 10 * time.Second}).withDefaults()
	if out.LockRenewTime != 10*time.Second {
		t.Errorf("LockRenewTime = %v, want the explicitly set 10s to be kept", out.LockRenewTime)
	}
}

func TestBackoffOptionsToBase(t *testing.T) {
	if (*BackoffOptions)(nil).toBase() != nil {
		t.Error("expected a nil *BackoffOptions to produce a nil base.BackoffOpts")
	}
	b := &BackoffOptions{Type: "fixed", Delay: 2 * time.Second}
	got := b.toBase()
	if got.Type != "fixed" || got.Delay != 2000 {
		t.Errorf("toBase() = %+v, want Type=fixed Delay=2000", got)
	}
}

func TestRemoveOnTerminateToBase(t *testing.T) {
	if (*RemoveOnTerminate)(nil).toBase() != nil {
		t.Error("expected a nil *RemoveOnTerminate to produce a nil base.RemoveOnTerminate")
	}
	r := &RemoveOnTerminate{Count: 100, Age: 2 * time.Hour}
	got := r.toBase()
	if got.Count != 100 || got.Age != 7200 {
		t.Errorf("toBase() = %+v, want Count=100 Age=7200", got)
	}
}

func TestRateLimiterOptionsToBase(t *testing.T) {
	if (*RateLimiterOptions)(nil).toBase() != nil {
		t.Error("expected a nil *RateLimiterOptions to produce a nil base.LimiterOptions")
	}
	l := &RateLimiterOptions{Max: 10, Duration: time.Second, GroupKey: "g"}
	got := l.toBase()
	if got.Max != 10 || got.Duration != time.Second || got.GroupKey != "g" {
		t.Errorf("toBase() = %+v, want Max=10 Duration=1s GroupKey=g", got)
	}
}
