// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package base

import (
	"context"
	"encoding/json"
	"time"
)

// AddOptions carries the subset of JobOpts relevant to the add/addBulk
// scripts plus the flow linkage fields.
type AddOptions struct {
	JobID     string
	Name      string
	Data      []byte
	Opts      JobOpts
	Parent    *ParentRef
	ParentKey string
	// NumUnresolvedDeps, when Parent is set, is the number of child ids this
	// job must wait for before leaving waiting-children.
	NumUnresolvedDeps int64
}

// ActiveResult is returned by MoveToActive.
type ActiveResult struct {
	Job        *JobRecord
	ID         string
	LimitUntil int64 // millis; >0 means rate-limited, retry after this time
	DelayUntil int64 // millis; >0 means nothing ready, next wake-up hint
}

// RemoveOptions selects the removeOnComplete/removeOnFail-style cap applied
// when a job terminates.
type RemoveOptions struct {
	*RemoveOnTerminate
}

// LimiterOptions configures the distributed rate limiter window.
type LimiterOptions struct {
	Max      int64
	Duration time.Duration
	GroupKey string
}

// RepeatableDef is a materialized repeatable job definition as stored under
// the `repeat:<keyHash>` hash.
type RepeatableDef struct {
	Key         string
	Name        string
	Pattern     string
	Every       int64
	TZ          string
	StartDate   int64
	EndDate     int64
	Limit       int64
	Immediately bool
	UTC         bool
	JobID       string
	Count       int64
	// NextMillis is the currently scheduled occurrence's fire time, as
	// reported by GetRepeatableJobs/GetRepeatableDef. Zero if the series has
	// terminated (endDate/limit exhausted) or was never installed.
	NextMillis int64
	LegacyKey  bool // true if stored in the pre-hash "repeat:<name>::::<suffix>" layout

	// Data and Opts are the template applied to every occurrence this
	// series produces. Only used by UpsertRepeatable; GetRepeatableJobs does
	// not round-trip them (they live on the occurrence job hash, not the def).
	Data []byte
	Opts JobOpts
}

// Broker is the contract every queue-state-machine, scheduler, worker, and
// flow operation in the core is built against. internal/rdb.RDB is the
// concrete Redis-backed implementation.
type Broker interface {
	Ping(ctx context.Context) error
	Close() error

	Add(ctx context.Context, qname string, opt AddOptions) (id string, duplicate bool, err error)
	AddBulk(ctx context.Context, qname string, opts []AddOptions) ([]string, error)

	MoveToActive(ctx context.Context, qname, token string, lockDuration time.Duration, limiter *LimiterOptions) (*ActiveResult, error)
	MoveToCompleted(ctx context.Context, qname, id, token string, returnValue []byte, remove *RemoveOnTerminate) error
	// MoveToFailed records a processing failure. willRetry and retryDelay are
	// decided by the caller (the worker's backoff strategy, including any
	// caller-registered custom strategy, is not resolvable from inside the
	// store layer) and parentPolicy is one of the JobOpts propagation flags
	// ("fail"|"continue"|"ignore"|"remove"|""), also resolved by the caller.
	MoveToFailed(ctx context.Context, qname, id, token, reason string, stackTraceLimit int, willRetry bool, retryDelay time.Duration, remove *RemoveOnTerminate, parentPolicy string) error
	MoveToDelayed(ctx context.Context, qname, id, token string, processAt time.Time) error
	MoveToWaitingChildren(ctx context.Context, qname, id, token string) (movedToWaitingChildren bool, err error)

	ExtendLock(ctx context.Context, qname, id, token string, duration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, qname, id, token string) error

	Retry(ctx context.Context, qname, id string) error
	Remove(ctx context.Context, qname, id string, force bool) error
	Promote(ctx context.Context, qname, id string) error

	Pause(ctx context.Context, qname string) error
	Resume(ctx context.Context, qname string) error
	IsPaused(ctx context.Context, qname string) (bool, error)

	Obliterate(ctx context.Context, qname string, force bool) error

	GetJob(ctx context.Context, qname, id string) (*JobRecord, JobState, error)
	GetJobCounts(ctx context.Context, qname string) (map[string]int64, error)
	GetJobs(ctx context.Context, qname string, state JobState, start, stop int64, asc bool) ([]*JobRecord, error)
	AppendJobLog(ctx context.Context, qname, id, line string) error
	GetJobLogs(ctx context.Context, qname, id string) ([]string, error)
	UpdateJobProgress(ctx context.Context, qname, id string, progress json.RawMessage) error

	Clean(ctx context.Context, qname string, grace time.Duration, limit int, state JobState) (int64, error)

	CheckStalledJobs(ctx context.Context, qname string, maxStalledCount int) (stalled []string, failed []string, err error)
	AcquireStalledCheckLease(ctx context.Context, qname string, interval time.Duration) (bool, error)

	UpsertRepeatable(ctx context.Context, qname string, def RepeatableDef) (nextMillis int64, err error)
	RemoveRepeatable(ctx context.Context, qname, key string) (bool, error)
	GetRepeatableJobs(ctx context.Context, qname string, offset, count int64, asc bool) ([]RepeatableDef, error)
	GetRepeatableDef(ctx context.Context, qname, key string) (*RepeatableDef, error)

	PublishEvent(ctx context.Context, qname, kind string, fields map[string]interface{}) error
	ReadEvents(ctx context.Context, qname, lastID string, count int64, block time.Duration) (nextID string, events []Event, err error)

	// SubscribeWaitNotify opens a connection dedicated to this subscription
	// for its lifetime, separate from the connections used for script calls,
	// and returns a handle an idle worker can block on to wake as soon as a
	// job in qname becomes newly dispatchable, instead of polling.
	SubscribeWaitNotify(ctx context.Context, qname string) (WaitNotifySubscription, error)

	// PublishHeartbeat records one worker process's liveness and its
	// in-flight jobs for operator introspection (dashboards, `ps`-style
	// tooling). ttl bounds how long the entries are considered live; expired
	// entries are trimmed opportunistically on the next call from any
	// worker.
	PublishHeartbeat(ctx context.Context, server ServerInfo, workers []WorkerInfo, ttl time.Duration) error
	// ListServers and ListWorkers return the currently live heartbeat
	// entries across every queue sharing this broker's prefix.
	ListServers(ctx context.Context) ([]ServerInfo, error)
	ListWorkers(ctx context.Context) ([]WorkerInfo, error)
}

// Event is one entry read back off the `events` stream.
type Event struct {
	ID     string
	Kind   string
	JobID  string
	Fields map[string]interface{}
}

// WaitNotifySubscription is a handle on an open wait-notify subscription.
type WaitNotifySubscription interface {
	// C returns a channel that receives a value whenever the queue gets a
	// newly dispatchable job. Multiple notifications arriving before a
	// receiver drains C collapse into one, since C only ever signals "check
	// again", not how many jobs are waiting.
	C() <-chan struct{}
	Close() error
}
