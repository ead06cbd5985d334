// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"time"

	"github.com/nagyist/bullmq/internal/base"
)

// RemoveOnTerminate configures whether/how many finished jobs are kept
// around after completing or failing. The zero value keeps every job.
type RemoveOnTerminate struct {
	// Always removes the job unconditionally.
	Always bool
	// Count keeps at most the newest Count jobs.
	Count int64
	// Age keeps jobs newer than Age, in addition to (or instead of) Count.
	Age time.Duration
}

func (r *RemoveOnTerminate) toBase() *base.RemoveOnTerminate {
	if r == nil {
		return nil
	}
	return &base.RemoveOnTerminate{Always: r.Always, Count: r.Count, Age: int64(r.Age / time.Second)}
}

// BackoffOptions configures the delay applied between retry attempts.
type BackoffOptions struct {
	// Type is "fixed", "exponential", or the name of a strategy registered
	// via WorkerOptions.BackoffStrategies.
	Type  string
	Delay time.Duration
}

func (b *BackoffOptions) toBase() *base.BackoffOpts {
	if b == nil {
		return nil
	}
	return &base.BackoffOpts{Type: b.Type, Delay: b.Delay.Milliseconds()}
}

// JobOptions controls how a single job behaves: delay, priority, retries,
// and flow/dependency propagation.
type JobOptions struct {
	// JobID, if set, makes Add idempotent: adding the same id twice returns
	// the existing job instead of creating a duplicate.
	JobID string

	// Delay postpones the job's first eligibility to run.
	Delay time.Duration

	// Priority orders jobs within the prioritized set; lower numeric value
	// runs first. Zero means unprioritized (FIFO in wait).
	Priority int64

	// Attempts is the maximum number of times the job will be dispatched,
	// including the first attempt. Zero means unlimited.
	Attempts int

	// Backoff configures the delay between retries. Nil means retry
	// immediately.
	Backoff *BackoffOptions

	// RemoveOnComplete/RemoveOnFail configure retention after the job
	// terminates. Nil keeps the job indefinitely.
	RemoveOnComplete *RemoveOnTerminate
	RemoveOnFail     *RemoveOnTerminate

	// StackTraceLimit caps how many stack frames are retained per failure.
	StackTraceLimit int

	// Discard, if true, skips retrying even if Attempts allows more.
	Discard bool

	// Parent dependency propagation: at most one of these should be set.
	FailParentOnFailure       bool
	ContinueParentOnFailure   bool
	IgnoreDependencyOnFailure bool
	RemoveDependencyOnFailure bool

	// GroupKey partitions the rate limiter: jobs sharing a GroupKey share a
	// limiter window distinct from other groups in the same queue.
	GroupKey string

	// Repeat, if set, makes this Add install (or update) a repeatable job
	// series instead of a one-shot job: Queue.Add delegates to the same
	// upsert path as Queue.UpsertJobScheduler, fingerprinting a definition
	// key from (name, JobID, EndDate, TZ, Pattern|Every) unless
	// Repeat.Key is set. Exactly one of Repeat.Pattern/Repeat.Every must be
	// set.
	Repeat *RepeatOptions

	repeatJobKey string // set internally by Scheduler occurrences
}

// withDefaults overlays d's fields onto any of o's fields left at their zero
// value, implementing QueueOptions.DefaultJobOptions. JobID and Repeat are
// never defaulted: they identify the call, not its retention/retry policy.
func (o JobOptions) withDefaults(d JobOptions) JobOptions {
	if o.Delay == 0 {
		o.Delay = d.Delay
	}
	if o.Priority == 0 {
		o.Priority = d.Priority
	}
	if o.Attempts == 0 {
		o.Attempts = d.Attempts
	}
	if o.Backoff == nil {
		o.Backoff = d.Backoff
	}
	if o.RemoveOnComplete == nil {
		o.RemoveOnComplete = d.RemoveOnComplete
	}
	if o.RemoveOnFail == nil {
		o.RemoveOnFail = d.RemoveOnFail
	}
	if o.StackTraceLimit == 0 {
		o.StackTraceLimit = d.StackTraceLimit
	}
	if o.GroupKey == "" {
		o.GroupKey = d.GroupKey
	}
	return o
}

func (o JobOptions) toBaseOpts(timestamp time.Time) base.JobOpts {
	return base.JobOpts{
		Delay:                     o.Delay.Milliseconds(),
		Timestamp:                 timestamp.UnixMilli(),
		Attempts:                  o.Attempts,
		Backoff:                   o.Backoff.toBase(),
		RemoveOnComplete:          o.RemoveOnComplete.toBase(),
		RemoveOnFail:              o.RemoveOnFail.toBase(),
		JobID:                     o.JobID,
		Priority:                  o.Priority,
		FailParentOnFailure:       o.FailParentOnFailure,
		ContinueParentOnFailure:   o.ContinueParentOnFailure,
		IgnoreDependencyOnFailure: o.IgnoreDependencyOnFailure,
		RemoveDependencyOnFailure: o.RemoveDependencyOnFailure,
		StackTraceLimit:           o.StackTraceLimit,
		Discard:                   o.Discard,
		RepeatJobKey:              o.repeatJobKey,
		GroupKey:                  o.GroupKey,
	}
}

// RepeatOptions describes a repeatable job's recurrence: either a cron
// Pattern or a fixed Every interval, optionally bounded by StartDate/EndDate
// and capped at Limit occurrences.
type RepeatOptions struct {
	Pattern   string
	Every     time.Duration
	TZ        string
	StartDate time.Time
	EndDate   time.Time
	Limit     int64

	// Immediately, if true, fires the first occurrence at upsert time
	// instead of waiting for the first Pattern/Every tick; the series then
	// resumes its normal cadence from there.
	Immediately bool

	// UTC forces cron pattern evaluation in UTC regardless of TZ.
	UTC bool

	// Key, if set, is used verbatim as the scheduler's definition key
	// instead of being derived from a fingerprint of the other fields.
	// Queue.UpsertJobScheduler always behaves this way since it takes an
	// explicit key; JobOptions.Repeat uses this field only when a caller
	// wants to pin a fingerprint-free id. Passing a legacy
	// "<name>::::<suffix>" composite key carried over from an older
	// installation is recognized: its occurrence ids are hashed down the
	// way they always were instead of embedding the composite verbatim.
	Key string
}

// QueueOptions configures a Queue producer.
type QueueOptions struct {
	// Prefix overrides the default "bull" key prefix.
	Prefix string

	// RepeatKeyHashAlgorithm selects the hash used to fingerprint
	// auto-keyed repeatable job definitions added via JobOptions.Repeat.
	// Defaults to "md5"; "sha256" is also recognized.
	RepeatKeyHashAlgorithm string

	// RepeatStrategy, if set, overrides the default next-occurrence
	// computation (cron pattern / fixed interval) for every repeatable job
	// added through this Queue. Returning a zero time terminates the
	// series, as does exceeding the definition's EndDate/Limit.
	RepeatStrategy func(millis int64, repeat RepeatOptions, name string) (time.Time, error)

	// DefaultJobOptions are applied to every Add/AddBulk call on this Queue
	// before the caller's JobOptions are overlaid on top.
	DefaultJobOptions JobOptions
}

// RateLimiterOptions configures a sliding-window rate limit applied to a
// worker's dispatch of jobs from one queue.
type RateLimiterOptions struct {
	Max      int64
	Duration time.Duration
	GroupKey string
}

func (l *RateLimiterOptions) toBase() *base.LimiterOptions {
	if l == nil {
		return nil
	}
	return &base.LimiterOptions{Max: l.Max, Duration: l.Duration, GroupKey: l.GroupKey}
}

// BackoffStrategyFunc computes the retry delay for attempt n (1-based) given
// the error the handler returned and the job being retried.
type BackoffStrategyFunc func(attempt int, err error, job *Job) time.Duration

// WorkerOptions configures a Worker runtime.
type WorkerOptions struct {
	// Prefix overrides the default "bull" key prefix. Must match the Queue's.
	Prefix string

	// Concurrency is the maximum number of jobs processed in parallel by
	// this worker. Defaults to 1.
	Concurrency int

	// LockDuration is how long a dispatched job's lock is held before it is
	// considered stalled. Defaults to 30s.
	LockDuration time.Duration

	// LockRenewTime is how often an active job's lock is renewed. Defaults
	// to LockDuration / 2.
	LockRenewTime time.Duration

	// StalledInterval is how often this worker attempts to become the
	// stalled-checker leader and sweep active for expired locks. Defaults
	// to 30s.
	StalledInterval time.Duration

	// MaxStalledCount is how many times a job may stall before it is
	// terminally failed instead of requeued. Defaults to 1.
	MaxStalledCount int

	// DrainDelay is how long the fetch loop sleeps after finding no ready
	// job before polling again. Defaults to 5s.
	DrainDelay time.Duration

	// Limiter, if set, rate-limits how fast this worker dispatches jobs.
	Limiter *RateLimiterOptions

	// BackoffStrategies registers named custom backoff strategies
	// selectable via JobOptions.Backoff.Type.
	BackoffStrategies map[string]BackoffStrategyFunc

	// HealthCheckFunc, if set, is called periodically with any error
	// encountered pinging the redis connection.
	HealthCheckFunc func(error)

	// HealthCheckInterval is the interval between healthchecks. Defaults to
	// 15s. Only used when HealthCheckFunc is set.
	HealthCheckInterval time.Duration

	// CleanInterval, if positive, periodically trims completed/failed jobs
	// older than CleanGrace off this worker's queue.
	CleanInterval  time.Duration
	CleanGrace     time.Duration
	CleanBatchSize int

	// Logger overrides the default logger.
	Logger Logger

	// LogLevel sets the minimum log level. Defaults to InfoLevel.
	LogLevel LogLevel

	// RepeatStrategy, if set, must match the Queue's so that re-arming a
	// scheduler series after dispatching one of its occurrences (the
	// advance-on-dispatch step) computes the same next-occurrence as the
	// producer side would.
	RepeatStrategy func(millis int64, repeat RepeatOptions, name string) (time.Time, error)
}

const (
	defaultConcurrency     = 1
	defaultLockDuration    = 30 * time.Second
	defaultStalledInterval = 30 * time.Second
	defaultMaxStalledCount = 1
	defaultDrainDelay      = 5 * time.Second
)

func (o *WorkerOptions) withDefaults() WorkerOptions {
	out := *o
	if out.Concurrency < 1 {
		out.Concurrency = defaultConcurrency
	}
	if out.LockDuration <= 0 {
		out.LockDuration = defaultLockDuration
	}
	if out.LockRenewTime <= 0 {
		out.LockRenewTime = out.LockDuration / 2
	}
	if out.StalledInterval <= 0 {
		out.StalledInterval = defaultStalledInterval
	}
	if out.MaxStalledCount < 1 {
		out.MaxStalledCount = defaultMaxStalledCount
	}
	if out.DrainDelay <= 0 {
		out.DrainDelay = defaultDrainDelay
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = defaultHealthCheckInterval
	}
	if out.CleanBatchSize <= 0 {
		out.CleanBatchSize = defaultCleanBatchSize
	}
	return out
}

const (
	defaultHealthCheckInterval = 15 * time.Second
	defaultCleanBatchSize      = 100
)
