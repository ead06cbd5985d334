// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package base

import (
	"encoding/json"
	"fmt"
)

// JobState denotes which state set currently holds a job's id.
type JobState int

const (
	StateUnknown JobState = iota
	StateWaiting
	StatePrioritized
	StateActive
	StateDelayed
	StateCompleted
	StateFailed
	StateWaitingChildren
	StatePaused
)

func (s JobState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePrioritized:
		return "prioritized"
	case StateActive:
		return "active"
	case StateDelayed:
		return "delayed"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateWaitingChildren:
		return "waiting-children"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

func JobStateFromString(s string) (JobState, error) {
	switch s {
	case "waiting":
		return StateWaiting, nil
	case "prioritized":
		return StatePrioritized, nil
	case "active":
		return StateActive, nil
	case "delayed":
		return StateDelayed, nil
	case "completed":
		return StateCompleted, nil
	case "failed":
		return StateFailed, nil
	case "waiting-children":
		return StateWaitingChildren, nil
	case "paused":
		return StatePaused, nil
	default:
		return StateUnknown, fmt.Errorf("bullmq: %q is not a supported job state", s)
	}
}

// ParentRef identifies the parent job of a flow child.
type ParentRef struct {
	ID       string `json:"id"`
	QueueKey string `json:"queueKey"`
}

// BackoffOpts mirrors the caller-supplied retry backoff configuration.
type BackoffOpts struct {
	Type  string `json:"type"` // "fixed" | "exponential" | "custom"
	Delay int64  `json:"delay,omitempty"`
	Name  string `json:"name,omitempty"` // custom strategy name
}

// RemoveOnTerminate mirrors removeOnComplete/removeOnFail: either "always
// remove" (Always), "keep newest N" (Count), or "cap by count and age"
// (Count and Age both set).
type RemoveOnTerminate struct {
	Always bool  `json:"always,omitempty"`
	Count  int64 `json:"count,omitempty"`
	Age    int64 `json:"age,omitempty"` // seconds
}

// JobOpts is the persisted form of a job's options.
type JobOpts struct {
	Delay                     int64              `json:"delay,omitempty"`
	Timestamp                 int64              `json:"timestamp,omitempty"`
	Attempts                  int                `json:"attempts,omitempty"`
	Backoff                   *BackoffOpts       `json:"backoff,omitempty"`
	RemoveOnComplete          *RemoveOnTerminate `json:"removeOnComplete,omitempty"`
	RemoveOnFail              *RemoveOnTerminate `json:"removeOnFail,omitempty"`
	JobID                     string             `json:"jobId,omitempty"`
	Priority                  int64              `json:"priority,omitempty"`
	FailParentOnFailure       bool               `json:"failParentOnFailure,omitempty"`
	ContinueParentOnFailure   bool               `json:"continueParentOnFailure,omitempty"`
	IgnoreDependencyOnFailure bool               `json:"ignoreDependencyOnFailure,omitempty"`
	RemoveDependencyOnFailure bool               `json:"removeDependencyOnFailure,omitempty"`
	StackTraceLimit           int                `json:"stackTraceLimit,omitempty"`
	Discard                   bool               `json:"discard,omitempty"`
	RepeatJobKey              string             `json:"repeatJobKey,omitempty"`
	GroupKey                  string             `json:"groupKey,omitempty"`
}

// JobRecord is the canonical, serializable representation of a job. It is
// the persisted redis hash value; field names follow the wire schema exactly
// so external tooling can read the same hash.
type JobRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Data            json.RawMessage `json:"data,omitempty"`
	Opts            JobOpts         `json:"opts"`
	Timestamp       int64           `json:"timestamp"`
	Delay           int64           `json:"delay,omitempty"`
	Priority        int64           `json:"priority,omitempty"`
	AttemptsStarted int             `json:"attemptsStarted"`
	AttemptsMade    int             `json:"attemptsMade"`
	StalledCounter  int             `json:"stalledCounter"`
	FailedReason    string          `json:"failedReason,omitempty"`
	Stacktrace      []string        `json:"stacktrace,omitempty"`
	ReturnValue     json.RawMessage `json:"returnvalue,omitempty"`
	ProcessedOn     int64           `json:"processedOn,omitempty"`
	FinishedOn      int64           `json:"finishedOn,omitempty"`
	Parent          *ParentRef      `json:"parent,omitempty"`
	ParentKey       string          `json:"parentKey,omitempty"`
	RepeatJobKey    string          `json:"repeatJobKey,omitempty"`
	Progress        json.RawMessage `json:"progress,omitempty"`
}

// EncodeJob marshals a JobRecord.
func EncodeJob(j *JobRecord) ([]byte, error) {
	if j == nil {
		return nil, fmt.Errorf("bullmq: cannot encode nil job record")
	}
	return json.Marshal(j)
}

// DecodeJob unmarshals a JobRecord.
func DecodeJob(data []byte) (*JobRecord, error) {
	var j JobRecord
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// IsCompleted reports whether the job record has a recorded finishedOn and
// no failedReason.
func (j *JobRecord) IsCompleted() bool {
	return j.FinishedOn > 0 && j.FailedReason == ""
}

// IsFailed reports whether the job record has a recorded failedReason.
func (j *JobRecord) IsFailed() bool {
	return j.FailedReason != ""
}

// ParentPolicyOf maps a job's propagation flags to the single policy name
// move_to_failed.lua and propagate_parent_failure.lua expect. An unset job
// (no flags) returns "", meaning the parent is left untouched.
func ParentPolicyOf(opts JobOpts) string {
	switch {
	case opts.FailParentOnFailure:
		return "fail"
	case opts.RemoveDependencyOnFailure:
		return "remove"
	case opts.IgnoreDependencyOnFailure:
		return "ignore"
	case opts.ContinueParentOnFailure:
		return "continue"
	default:
		return ""
	}
}

// AttemptsRemaining reports how many more dispatches the job may use before
// exhausting Opts.Attempts. A zero Attempts means unlimited (caller must
// still honor Discard).
func (j *JobRecord) AttemptsRemaining() int {
	if j.Opts.Attempts <= 0 {
		return -1
	}
	return j.Opts.Attempts - j.AttemptsMade
}

// PriorityBits is the number of low bits reserved for the monotonic
// tie-break sequence in a prioritized composite score.
const PriorityBits = 32

// MaxPriority is the largest priority value accepted (2^21 - 1).
const MaxPriority = (1 << 21) - 1

// PriorityScore composes the sorted-set score used by the `prioritized` zset:
// upper bits carry the numeric priority (lower numeric = higher precedence,
// so BullMQ negates nothing and instead sorts ascending), lower bits carry
// the monotonic sequence so FIFO holds within a priority class.
func PriorityScore(priority, sequence int64) float64 {
	return float64(priority<<PriorityBits | (sequence & ((1 << PriorityBits) - 1)))
}

// DelayScore composes the sorted-set score used by the `delayed` zset:
// upper bits carry the fire-time in milliseconds, lower bits carry the
// monotonic sequence so FIFO holds for jobs sharing the same fire time.
func DelayScore(fireAtMillis, sequence int64) float64 {
	return float64(fireAtMillis<<PriorityBits | (sequence & ((1 << PriorityBits) - 1)))
}

// SplitScore decomposes a composite score built by PriorityScore/DelayScore
// back into its (value, sequence) parts.
func SplitScore(score float64) (value, sequence int64) {
	s := int64(score)
	return s >> PriorityBits, s & ((1 << PriorityBits) - 1)
}
