package bullmq

import (
	"testing"
	"time"
)

func TestValidateRepeatOptionsBothPatternAndEvery(t *testing.T) {
	err := validateRepeatOptions(RepeatOptions{Pattern: "0 0 * * *", Every: time.Minute})
	if err == nil {
		t.Fatal("expected an error when both Pattern and Every are set")
	}
}

func TestValidateRepeatOptionsNeitherPatternNorEvery(t *testing.T) {
	err := validateRepeatOptions(RepeatOptions{})
	if err == nil {
		t.Fatal("expected an error when neither Pattern nor Every is set")
	}
}

func TestValidateRepeatOptionsEndDateInPast(t *testing.T) {
	err := validateRepeatOptions(RepeatOptions{Every: time.Minute, EndDate: time.Now().Add(-time.Hour)})
	if err == nil {
		t.Fatal("expected an error when EndDate is in the past")
	}
}

func TestValidateRepeatOptionsValidEvery(t *testing.T) {
	if err := validateRepeatOptions(RepeatOptions{Every: time.Minute}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRepeatOptionsValidPatternWithFutureEndDate(t *testing.T) {
	opts := RepeatOptions{Pattern: "0 0 * * *", EndDate: time.Now().Add(24 * time.Hour)}
	if err := validateRepeatOptions(opts); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
