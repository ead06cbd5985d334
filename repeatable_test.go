package bullmq

import (
	"testing"
	"time"
)

func TestFingerprintRepeatKeyStableForSameInputs(t *testing.T) {
	repeat := RepeatOptions{Pattern: "0 0 * * *", TZ: "UTC"}
	a := fingerprintRepeatKey("md5", "email:digest", "", repeat)
	b := fingerprintRepeatKey("md5", "email:digest", "", repeat)
	if a != b {
		t.Errorf("expected identical inputs to fingerprint identically, got %q vs %q", a, b)
	}
}

func TestFingerprintRepeatKeyDiffersOnName(t *testing.T) {
	repeat := RepeatOptions{Pattern: "0 0 * * *"}
	a := fingerprintRepeatKey("md5", "email:digest", "", repeat)
	b := fingerprintRepeatKey("md5", "email:weekly", "", repeat)
	if a == b {
		t.Error("expected different job names to fingerprint differently")
	}
}

func TestFingerprintRepeatKeyDiffersOnEvery(t *testing.T) {
	a := fingerprintRepeatKey("md5", "job", "", RepeatOptions{Every: time.Minute})
	b := fingerprintRepeatKey("md5", "job", "", RepeatOptions{Every: 2 * time.Minute})
	if a == b {
		t.Error("expected different Every intervals to fingerprint differently")
	}
}

func TestFingerprintRepeatKeySha256Differs(t *testing.T) {
	repeat := RepeatOptions{Pattern: "0 0 * * *"}
	md5Key := fingerprintRepeatKey("md5", "job", "", repeat)
	shaKey := fingerprintRepeatKey("sha256", "job", "", repeat)
	if md5Key == shaKey {
		t.Error("expected md5 and sha256 to produce different fingerprints")
	}
	if len(md5Key) != 32 {
		t.Errorf("expected a 32-char hex md5 digest, got %d chars", len(md5Key))
	}
	if len(shaKey) != 64 {
		t.Errorf("expected a 64-char hex sha256 digest, got %d chars", len(shaKey))
	}
}

func TestFingerprintRepeatKeyDiffersOnEndDate(t *testing.T) {
	repeat := RepeatOptions{Pattern: "0 0 * * *"}
	withEnd := repeat
	withEnd.EndDate = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	a := fingerprintRepeatKey("md5", "job", "", repeat)
	b := fingerprintRepeatKey("md5", "job", "", withEnd)
	if a == b {
		t.Error("expected setting EndDate to change the fingerprint")
	}
}
