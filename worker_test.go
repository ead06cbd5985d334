package bullmq

import "testing"

func TestWorkerPauseResume(t *testing.T) {
	w := &Worker{}
	if w.IsPaused() {
		t.Fatal("expected a new Worker to not be paused")
	}
	w.Pause()
	if !w.IsPaused() {
		t.Fatal("expected IsPaused to be true after Pause")
	}
	w.Resume()
	if w.IsPaused() {
		t.Fatal("expected IsPaused to be false after Resume")
	}
}

func TestWorkerPauseIsIdempotent(t *testing.T) {
	w := &Worker{}
	w.Pause()
	w.Pause()
	if !w.IsPaused() {
		t.Fatal("expected worker to remain paused after a second Pause call")
	}
	w.Resume()
	w.Resume()
	if w.IsPaused() {
		t.Fatal("expected worker to remain resumed after a second Resume call")
	}
}
