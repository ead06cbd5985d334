package base

import (
	"testing"
)

func TestJobStateStringRoundTrip(t *testing.T) {
	tests := []struct {
		state JobState
		want  string
	}{
		{StateWaiting, "waiting"},
		{StatePrioritized, "prioritized"},
		{StateActive, "active"},
		{StateDelayed, "delayed"},
		{StateCompleted, "completed"},
		{StateFailed, "failed"},
		{StateWaitingChildren, "waiting-children"},
		{StatePaused, "paused"},
		{StateUnknown, "unknown"},
	}
	for _, tt := range tests {
		if have := tt.state.String(); have != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, have, tt.want)
		}
		if tt.state == StateUnknown {
			continue
		}
		got, err := JobStateFromString(tt.want)
		if err != nil {
			t.Errorf("JobStateFromString(%q) returned error: %v", tt.want, err)
		}
		if got != tt.state {
			t.Errorf("JobStateFromString(%q) = %v, want %v", tt.want, got, tt.state)
		}
	}
}

func TestJobStateFromStringInvalid(t *testing.T) {
	got, err := JobStateFromString("wait")
	if err == nil {
		t.Fatal("expected error for unsupported state string")
	}
	if got != StateUnknown {
		t.Errorf("got state %v, want StateUnknown", got)
	}
}

func TestParentPolicyOf(t *testing.T) {
	tests := []struct {
		name string
		opts JobOpts
		want string
	}{
		{"none set", JobOpts{}, ""},
		{"fail wins", JobOpts{FailParentOnFailure: true, ContinueParentOnFailure: true}, "fail"},
		{"remove", JobOpts{RemoveDependencyOnFailure: true}, "remove"},
		{"ignore", JobOpts{IgnoreDependencyOnFailure: true}, "ignore"},
		{"continue", JobOpts{ContinueParentOnFailure: true}, "continue"},
	}
	for _, tt := range tests {
		if have := ParentPolicyOf(tt.opts); have != tt.want {
			t.Errorf("%s: ParentPolicyOf() = %q, want %q", tt.name, have, tt.want)
		}
	}
}

func TestAttemptsRemaining(t *testing.T) {
	tests := []struct {
		name string
		rec  JobRecord
		want int
	}{
		{"unlimited", JobRecord{Opts: JobOpts{Attempts: 0}, AttemptsMade: 5}, -1},
		{"some left", JobRecord{Opts: JobOpts{Attempts: 3}, AttemptsMade: 1}, 2},
		{"exhausted", JobRecord{Opts: JobOpts{Attempts: 3}, AttemptsMade: 3}, 0},
	}
	for _, tt := range tests {
		if have := tt.rec.AttemptsRemaining(); have != tt.want {
			t.Errorf("%s: AttemptsRemaining() = %d, want %d", tt.name, have, tt.want)
		}
	}
}

func TestIsCompletedIsFailed(t *testing.T) {
	rec := &JobRecord{FinishedOn: 100}
	if !rec.IsCompleted() {
		t.Error("expected IsCompleted to be true")
	}
	if rec.IsFailed() {
		t.Error("expected IsFailed to be false")
	}

	rec = &JobRecord{FinishedOn: 100, FailedReason: "boom"}
	if rec.IsCompleted() {
		t.Error("expected IsCompleted to be false once FailedReason is set")
	}
	if !rec.IsFailed() {
		t.Error("expected IsFailed to be true")
	}
}

func TestEncodeDecodeJobRoundTrip(t *testing.T) {
	rec := &JobRecord{ID: "1", Name: "email", AttemptsMade: 2}
	data, err := EncodeJob(rec)
	if err != nil {
		t.Fatalf("EncodeJob: %v", err)
	}
	got, err := DecodeJob(data)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if got.ID != rec.ID || got.Name != rec.Name || got.AttemptsMade != rec.AttemptsMade {
		t.Errorf("DecodeJob round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestEncodeJobNil(t *testing.T) {
	_, err := EncodeJob(nil)
	if err == nil {
		t.Fatal("expected error encoding a nil job record")
	}
}

func TestPriorityAndDelayScoreRoundTrip(t *testing.T) {
	value, seq := int64(5), int64(42)
	if gotValue, gotSeq := SplitScore(PriorityScore(value, seq)); gotValue != value || gotSeq != seq {
		t.Errorf("PriorityScore round trip = (%d, %d), want (%d, %d)", gotValue, gotSeq, value, seq)
	}
	if gotValue, gotSeq := SplitScore(DelayScore(value, seq)); gotValue != value || gotSeq != seq {
		t.Errorf("DelayScore round trip = (%d, %d), want (%d, %d)", gotValue, gotSeq, value, seq)
	}
}

func TestPriorityScoreOrdering(t *testing.T) {
	lower := PriorityScore(1, 0)
	higher := PriorityScore(2, 0)
	if lower >= higher {
		t.Errorf("expected priority 1 to sort before priority 2: got scores %v, %v", lower, higher)
	}
	first := PriorityScore(1, 0)
	second := PriorityScore(1, 1)
	if first >= second {
		t.Errorf("expected earlier sequence to sort first within same priority: got %v, %v", first, second)
	}
}
