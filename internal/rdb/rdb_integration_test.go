package rdb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
)

// newTestRDB returns an RDB bound to a throwaway queue name on a local redis
// instance, skipping the test if one isn't reachable. Mirrors the pack's
// convention of testing store-backed code against a real store rather than
// a mock.
func newTestRDB(t *testing.T) (*RDB, string) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("no local redis reachable at 127.0.0.1:6379: %v", err)
	}

	qname := "test-" + uuid.NewString()
	r := NewRDB(client)
	t.Cleanup(func() {
		r.Obliterate(context.Background(), qname, true)
		r.Close()
	})
	return r, qname
}

func TestAddAndGetJob(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	id, dup, err := r.Add(ctx, qname, base.AddOptions{Name: "welcome", Data: []byte(`{"to":"a@example.com"}`)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dup {
		t.Fatal("expected a freshly generated job id, not a duplicate")
	}

	rec, state, err := r.GetJob(ctx, qname, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if rec.Name != "welcome" {
		t.Errorf("Name = %q, want %q", rec.Name, "welcome")
	}
	if state != base.StateWaiting {
		t.Errorf("state = %v, want StateWaiting", state)
	}
}

func TestAddWithExplicitJobIDIsIdempotent(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	id1, dup1, err := r.Add(ctx, qname, base.AddOptions{JobID: "fixed-id", Name: "job"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dup1 {
		t.Fatal("expected the first Add with a fresh job id to not be a duplicate")
	}

	id2, dup2, err := r.Add(ctx, qname, base.AddOptions{JobID: "fixed-id", Name: "job"})
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if !dup2 {
		t.Fatal("expected the second Add with the same job id to be reported as a duplicate")
	}
	if id1 != id2 {
		t.Errorf("ids differ across duplicate Add calls: %q vs %q", id1, id2)
	}
}

func TestMoveToActiveThenCompleted(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	id, _, err := r.Add(ctx, qname, base.AddOptions{Name: "job"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	token := uuid.NewString()
	res, err := r.MoveToActive(ctx, qname, token, 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job == nil {
		t.Fatal("expected a job to be dispatched")
	}
	if res.Job.ID != id {
		t.Errorf("dispatched job id = %q, want %q", res.Job.ID, id)
	}

	if err := r.MoveToCompleted(ctx, qname, id, token, []byte(`"ok"`), nil); err != nil {
		t.Fatalf("MoveToCompleted: %v", err)
	}

	_, state, err := r.GetJob(ctx, qname, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if state != base.StateCompleted {
		t.Errorf("state after completion = %v, want StateCompleted", state)
	}
}

func TestMoveToActiveEmptyQueueReturnsNoJob(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	res, err := r.MoveToActive(ctx, qname, uuid.NewString(), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job != nil {
		t.Error("expected no job to be dispatched from an empty queue")
	}
}

func TestPauseResumeBlocksDispatch(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	if _, _, err := r.Add(ctx, qname, base.AddOptions{Name: "job"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Pause(ctx, qname); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused, err := r.IsPaused(ctx, qname)
	if err != nil {
		t.Fatalf("IsPaused: %v", err)
	}
	if !paused {
		t.Fatal("expected queue to report paused after Pause")
	}

	res, err := r.MoveToActive(ctx, qname, uuid.NewString(), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job != nil {
		t.Error("expected MoveToActive to dispatch nothing while paused")
	}

	if err := r.Resume(ctx, qname); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	res, err = r.MoveToActive(ctx, qname, uuid.NewString(), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive after Resume: %v", err)
	}
	if res.Job == nil {
		t.Error("expected MoveToActive to dispatch the pending job after Resume")
	}
}

func TestSubscribeWaitNotifyWakesOnAdd(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	sub, err := r.SubscribeWaitNotify(ctx, qname)
	if err != nil {
		t.Fatalf("SubscribeWaitNotify: %v", err)
	}
	defer sub.Close()

	if _, _, err := r.Add(ctx, qname, base.AddOptions{Name: "job"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a wait-notify wakeup after Add")
	}
}

func TestSubscribeWaitNotifySilentWhilePaused(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	if err := r.Pause(ctx, qname); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	sub, err := r.SubscribeWaitNotify(ctx, qname)
	if err != nil {
		t.Fatalf("SubscribeWaitNotify: %v", err)
	}
	defer sub.Close()

	if _, _, err := r.Add(ctx, qname, base.AddOptions{Name: "job"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case <-sub.C():
		t.Fatal("expected no wakeup for a job added to a paused queue")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUpsertAndRemoveRepeatable(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	def := base.RepeatableDef{Key: "daily-digest", Name: "digest", Pattern: "0 0 * * *"}
	next, err := r.UpsertRepeatable(ctx, qname, def)
	if err != nil {
		t.Fatalf("UpsertRepeatable: %v", err)
	}
	if next == 0 {
		t.Fatal("expected a nonzero next occurrence for an unbounded daily pattern")
	}

	got, err := r.GetRepeatableDef(ctx, qname, "daily-digest")
	if err != nil {
		t.Fatalf("GetRepeatableDef: %v", err)
	}
	if got == nil || got.Pattern != "0 0 * * *" {
		t.Fatalf("GetRepeatableDef = %+v, want pattern 0 0 * * *", got)
	}

	ok, err := r.RemoveRepeatable(ctx, qname, "daily-digest")
	if err != nil {
		t.Fatalf("RemoveRepeatable: %v", err)
	}
	if !ok {
		t.Fatal("expected RemoveRepeatable to report it removed an existing definition")
	}

	got, err = r.GetRepeatableDef(ctx, qname, "daily-digest")
	if err != nil {
		t.Fatalf("GetRepeatableDef after removal: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no definition after removal, got %+v", got)
	}
}

// TestMoveToActiveAdvancesEveryRepeatableInline asserts that dispatching a
// fixed-interval repeatable occurrence installs its successor as part of
// the same MoveToActive call, entirely inside move_to_active.lua, so the
// series survives a crash between dispatch and completion.
func TestMoveToActiveAdvancesEveryRepeatableInline(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	def := base.RepeatableDef{Key: "every-tick", Name: "tick", Every: 60000, Immediately: true}
	first, err := r.UpsertRepeatable(ctx, qname, def)
	if err != nil {
		t.Fatalf("UpsertRepeatable: %v", err)
	}
	if first == 0 {
		t.Fatal("expected a nonzero first occurrence")
	}

	res, err := r.MoveToActive(ctx, qname, uuid.NewString(), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job == nil {
		t.Fatal("expected the immediate occurrence to be dispatched")
	}
	if res.Job.RepeatJobKey != "every-tick" {
		t.Fatalf("dispatched job repeatJobKey = %q, want every-tick", res.Job.RepeatJobKey)
	}

	def2, err := r.GetRepeatableDef(ctx, qname, "every-tick")
	if err != nil {
		t.Fatalf("GetRepeatableDef: %v", err)
	}
	if def2 == nil {
		t.Fatal("expected the series to still exist after dispatch")
	}
	if def2.Count != 2 {
		t.Errorf("count after inline advance = %d, want 2", def2.Count)
	}

	next, err := r.client.ZScore(ctx, r.keys(qname).Repeat(), "every-tick").Result()
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(next) <= first {
		t.Errorf("next occurrence score = %v, want something after the dispatched occurrence (%d)", next, first)
	}

	jobs, err := r.GetRepeatableJobs(ctx, qname, 0, 10, true)
	if err != nil {
		t.Fatalf("GetRepeatableJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one repeatable definition outstanding, got %d", len(jobs))
	}
}

// TestMoveToActiveAdvancesCronRepeatableViaGo asserts that dispatching a
// cron-pattern repeatable occurrence also re-arms the series in the same
// MoveToActive call, via the Go-side cron finish-up since move_to_active.lua
// itself can't parse cron expressions.
func TestMoveToActiveAdvancesCronRepeatableViaGo(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	def := base.RepeatableDef{Key: "minute-report", Name: "report", Pattern: "* * * * *", Immediately: true}
	first, err := r.UpsertRepeatable(ctx, qname, def)
	if err != nil {
		t.Fatalf("UpsertRepeatable: %v", err)
	}
	if first == 0 {
		t.Fatal("expected a nonzero first occurrence")
	}

	res, err := r.MoveToActive(ctx, qname, uuid.NewString(), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job == nil {
		t.Fatal("expected the immediate occurrence to be dispatched")
	}

	def2, err := r.GetRepeatableDef(ctx, qname, "minute-report")
	if err != nil {
		t.Fatalf("GetRepeatableDef: %v", err)
	}
	if def2 == nil {
		t.Fatal("expected the series to still exist after dispatch")
	}
	if def2.Count != 2 {
		t.Errorf("count after cron finish-up = %d, want 2", def2.Count)
	}

	next, err := r.client.ZScore(ctx, r.keys(qname).Repeat(), "minute-report").Result()
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(next) <= first {
		t.Errorf("next occurrence score = %v, want something after the dispatched occurrence (%d)", next, first)
	}
}

// TestMoveToActiveHonorsCustomStrategyForEveryRepeatable asserts that an
// "every" repeatable series also defers to Go for its advance when a custom
// RepeatStrategyFunc is registered, instead of move_to_active.lua computing
// the next occurrence itself with plain timestamp+delay+every arithmetic.
func TestMoveToActiveHonorsCustomStrategyForEveryRepeatable(t *testing.T) {
	r, qname := newTestRDB(t)
	ctx := context.Background()

	var strategyCalls int
	const customEvery = int64(5 * 60 * 1000) // deliberately different from def.Every
	r.repeatStrategy = func(millis int64, def base.RepeatableDef) (int64, error) {
		strategyCalls++
		return millis + customEvery, nil
	}

	def := base.RepeatableDef{Key: "custom-every", Name: "tick", Every: 60000, Immediately: true}
	first, err := r.UpsertRepeatable(ctx, qname, def)
	if err != nil {
		t.Fatalf("UpsertRepeatable: %v", err)
	}
	if first == 0 {
		t.Fatal("expected a nonzero first occurrence")
	}
	if strategyCalls != 0 {
		t.Fatalf("strategy should not be consulted for an Immediately first occurrence, got %d calls", strategyCalls)
	}

	res, err := r.MoveToActive(ctx, qname, uuid.NewString(), 30*time.Second, nil)
	if err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if res.Job == nil {
		t.Fatal("expected the immediate occurrence to be dispatched")
	}

	if strategyCalls != 1 {
		t.Fatalf("expected the custom strategy to be consulted exactly once on advance, got %d calls", strategyCalls)
	}

	next, err := r.client.ZScore(ctx, r.keys(qname).Repeat(), "custom-every").Result()
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(next) != res.Job.Timestamp+res.Job.Delay+customEvery {
		t.Errorf("next occurrence score = %v, want %d (custom strategy's result, not the plain every-interval arithmetic)",
			next, res.Job.Timestamp+res.Job.Delay+customEvery)
	}
}
