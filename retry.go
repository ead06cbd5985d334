// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"math"
	"time"
)

// computeBackoff resolves the retry delay for a job's next attempt,
// honoring the JobOptions.Backoff strategy recorded on the job (fixed,
// exponential, or a caller-registered custom name).
func computeBackoff(job *Job, jobErr error, strategies map[string]BackoffStrategyFunc) time.Duration {
	backoff := job.record.Opts.Backoff
	if backoff == nil {
		return 0
	}
	delay := time.Duration(backoff.Delay) * time.Millisecond
	attempt := job.record.AttemptsMade
	switch backoff.Type {
	case "exponential":
		return delay * time.Duration(math.Pow(2, float64(attempt-1)))
	case "fixed", "":
		return delay
	default:
		if fn, ok := strategies[backoff.Type]; ok {
			return fn(attempt, jobErr, job)
		}
		return delay
	}
}

// willRetry reports whether a job that just failed has attempts remaining
// and has not been discarded.
func willRetry(job *Job) bool {
	if job.record.Opts.Discard {
		return false
	}
	remaining := job.record.AttemptsRemaining()
	return remaining < 0 || remaining > 0
}
