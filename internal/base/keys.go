// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package base defines the canonical key layout, job record, and broker
// contract shared by the queue state machine, scheduler, worker runtime, and
// flow engine.
package base

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the key prefix used when QueueOptions.Prefix is unset.
const DefaultPrefix = "bull"

// DefaultQueueName is the queue name used if none is specified.
const DefaultQueueName = "default"

// QueuePrefix returns "<prefix>:{<queueName>}:", the hash-tagged prefix
// shared by every key belonging to a single queue so that a Redis Cluster
// deployment keeps a queue's keys co-located on one shard.
func QueuePrefix(prefix, qname string) string {
	return prefix + ":{" + qname + "}:"
}

// QualifiedJobKey returns "<prefix>:<queueName>:<id>", the cross-queue
// reference format used for parent pointers and failure messages. It
// deliberately omits the cluster hash-tag braces since it is a display/
// comparison value, not a Redis key operand.
func QualifiedJobKey(prefix, qname, id string) string {
	return prefix + ":" + qname + ":" + id
}

// Keys groups every canonical key for one queue.
type Keys struct {
	Prefix, Name string
}

// NewKeys returns the Keys helper for the given prefix and queue name.
func NewKeys(prefix, qname string) Keys {
	return Keys{Prefix: prefix, Name: qname}
}

func (k Keys) base() string { return QueuePrefix(k.Prefix, k.Name) }

// ID is the key holding the monotonic id counter.
func (k Keys) ID() string { return k.base() + "id" }

// Wait is the FIFO waiting list.
func (k Keys) Wait() string { return k.base() + "wait" }

// Paused is the side list waiting jobs are redirected to while the queue is paused.
func (k Keys) Paused() string { return k.base() + "paused" }

// Active is the set of ids currently dispatched to a worker.
func (k Keys) Active() string { return k.base() + "active" }

// Prioritized is the sorted set of jobs ordered by composite priority score.
func (k Keys) Prioritized() string { return k.base() + "prioritized" }

// PriorityCounter is the monotonic sequence counter used to break priority ties.
func (k Keys) PriorityCounter() string { return k.base() + "pc" }

// Delayed is the sorted set of jobs ordered by scheduled-fire-millis.
func (k Keys) Delayed() string { return k.base() + "delayed" }

// Completed is the sorted set of completed jobs ordered by finishedOn.
func (k Keys) Completed() string { return k.base() + "completed" }

// Failed is the sorted set of failed jobs ordered by finishedOn.
func (k Keys) Failed() string { return k.base() + "failed" }

// WaitingChildren is the set of parent ids blocked on unresolved children.
func (k Keys) WaitingChildren() string { return k.base() + "waiting-children" }

// StalledCheck is the leader-election probe key for the stalled checker.
func (k Keys) StalledCheck() string { return k.base() + "stalled-check" }

// Stalled is the scratch set the stalled checker uses while sweeping active.
func (k Keys) Stalled() string { return k.base() + "stalled" }

// Marker holds the sentinel next-wake-up-time entry for blocked workers.
func (k Keys) Marker() string { return k.base() + "marker" }

// Events is the capped stream jobs lifecycle events are published on.
func (k Keys) Events() string { return k.base() + "events" }

// WaitNotify is the pub/sub channel published to whenever a job becomes
// ready to dispatch (added to wait/prioritized with nothing blocking it),
// so an idle worker's dedicated subscriber connection can wake immediately
// instead of polling.
func (k Keys) WaitNotify() string { return k.base() + "wait-notify" }

// Meta is the hash of queue-wide metadata (pause flag, counters).
func (k Keys) Meta() string { return k.base() + "meta" }

// Repeat is the sorted set of repeatable job definitions (key -> next millis).
func (k Keys) Repeat() string { return k.base() + "repeat" }

// RepeatDef returns the hash key holding a single repeatable definition.
func (k Keys) RepeatDef(keyHash string) string { return k.base() + "repeat:" + keyHash }

// Limiter is the hash/zset backing the rate limiter window.
func (k Keys) Limiter() string { return k.base() + "limiter" }

// Job returns the hash key for a single job's attributes.
func (k Keys) Job(id string) string { return k.base() + id }

// JobLogs returns the list key holding a job's appended log lines.
func (k Keys) JobLogs(id string) string { return k.base() + id + ":logs" }

// JobLock returns the string key holding a job's active-processing lock token.
func (k Keys) JobLock(id string) string { return k.base() + id + ":lock" }

// RepeatJobID builds the delayed-job id for a scheduler occurrence:
// "repeat:<keyHash>:<occurrenceMillis>".
func RepeatJobID(keyHash string, millis int64) string {
	return fmt.Sprintf("repeat:%s:%d", keyHash, millis)
}

// IsRepeatJobID reports whether id was produced by a scheduler, and if so
// returns the keyHash and occurrence millis it encodes.
func IsRepeatJobID(id string) (keyHash string, millis int64, ok bool) {
	if !strings.HasPrefix(id, "repeat:") {
		return "", 0, false
	}
	rest := strings.TrimPrefix(id, "repeat:")
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return "", 0, false
	}
	var m int64
	if _, err := fmt.Sscanf(rest[idx+1:], "%d", &m); err != nil {
		return "", 0, false
	}
	return rest[:idx], m, true
}

// ValidateQueueName validates qname for use as a queue name.
func ValidateQueueName(qname string) error {
	if len(strings.TrimSpace(qname)) == 0 {
		return fmt.Errorf("bullmq: queue name must contain one or more characters")
	}
	return nil
}
