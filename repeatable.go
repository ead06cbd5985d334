// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprintRepeatKey derives the auto-keyed scheduler definition key used
// when RepeatOptions.Key is not supplied: a hash of the fields that make the
// series unique, so two Add calls describing the same recurrence converge on
// the same definition instead of installing duplicates.
func fingerprintRepeatKey(algo, name, jobID string, repeat RepeatOptions) string {
	suffix := repeat.Pattern
	if suffix == "" {
		suffix = fmt.Sprintf("every:%d", repeat.Every.Milliseconds())
	}
	var endDate int64
	if !repeat.EndDate.IsZero() {
		endDate = repeat.EndDate.UnixMilli()
	}
	raw := fmt.Sprintf("%s::%s::%d::%s::%s", name, jobID, endDate, repeat.TZ, suffix)

	var sum []byte
	switch algo {
	case "sha256":
		h := sha256.Sum256([]byte(raw))
		sum = h[:]
	default:
		h := md5.Sum([]byte(raw))
		sum = h[:]
	}
	return hex.EncodeToString(sum)
}
