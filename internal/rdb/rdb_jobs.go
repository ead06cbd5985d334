// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

func encodeOpts(opts base.JobOpts) (string, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Add enqueues a single job, returning its allocated id and whether it was a
// duplicate of an existing caller-supplied job id.
func (r *RDB) Add(ctx context.Context, qname string, opt base.AddOptions) (string, bool, error) {
	k := r.keys(qname)
	optsJSON, err := encodeOpts(opt.Opts)
	if err != nil {
		return "", false, err
	}
	var parentJSON string
	if opt.Parent != nil {
		b, err := json.Marshal(opt.Parent)
		if err != nil {
			return "", false, err
		}
		parentJSON = string(b)
	}
	timestamp := opt.Opts.Timestamp
	if timestamp == 0 {
		timestamp = nowMillis()
	}
	keys := []string{
		k.Wait(), k.Paused(), k.Meta(), k.ID(), k.Prioritized(), k.PriorityCounter(),
		k.Delayed(), k.Marker(), k.WaitingChildren(), k.Events(), k.WaitNotify(),
	}
	args := []interface{}{
		opt.JobID, opt.Name, string(opt.Data), optsJSON,
		timestamp, opt.Opts.Delay, opt.Opts.Priority,
		parentJSON, opt.ParentKey, opt.NumUnresolvedDeps,
		r.queuePrefix(qname), nowMillis(), opt.Opts.RepeatJobKey,
	}
	res, err := scripts.add.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		return "", false, err
	}
	id := cast.ToString(res[0])
	duplicate := cast.ToInt(res[1]) == 1
	return id, duplicate, nil
}

type bulkJobSpec struct {
	JobID             string `json:"jobId"`
	Name              string `json:"name"`
	Data              string `json:"data"`
	Opts              string `json:"opts"`
	Timestamp         int64  `json:"timestamp"`
	Delay             int64  `json:"delay"`
	Priority          int64  `json:"priority"`
	ParentJSON        string `json:"parentJSON"`
	ParentKey         string `json:"parentKey"`
	NumUnresolvedDeps int64  `json:"numUnresolvedDeps"`
	RepeatJobKey      string `json:"repeatJobKey"`
}

// AddBulk enqueues many jobs atomically, preserving relative order.
func (r *RDB) AddBulk(ctx context.Context, qname string, opts []base.AddOptions) ([]string, error) {
	k := r.keys(qname)
	specs := make([]bulkJobSpec, 0, len(opts))
	now := nowMillis()
	for _, opt := range opts {
		optsJSON, err := encodeOpts(opt.Opts)
		if err != nil {
			return nil, err
		}
		var parentJSON string
		if opt.Parent != nil {
			b, err := json.Marshal(opt.Parent)
			if err != nil {
				return nil, err
			}
			parentJSON = string(b)
		}
		timestamp := opt.Opts.Timestamp
		if timestamp == 0 {
			timestamp = now
		}
		specs = append(specs, bulkJobSpec{
			JobID: opt.JobID, Name: opt.Name, Data: string(opt.Data), Opts: optsJSON,
			Timestamp: timestamp, Delay: opt.Opts.Delay, Priority: opt.Opts.Priority,
			ParentJSON: parentJSON, ParentKey: opt.ParentKey,
			NumUnresolvedDeps: opt.NumUnresolvedDeps, RepeatJobKey: opt.Opts.RepeatJobKey,
		})
	}
	jobsJSON, err := json.Marshal(specs)
	if err != nil {
		return nil, err
	}
	keys := []string{
		k.Wait(), k.Paused(), k.Meta(), k.ID(), k.Prioritized(), k.PriorityCounter(),
		k.Delayed(), k.Marker(), k.WaitingChildren(), k.Events(), k.WaitNotify(),
	}
	raw, err := scripts.addBulk.Run(ctx, r.client, keys, r.queuePrefix(qname), now, string(jobsJSON)).Text()
	if err != nil {
		return nil, err
	}
	var pairs [][2]interface{}
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, err
	}
	ids := make([]string, len(pairs))
	for i, p := range pairs {
		ids[i] = cast.ToString(p[0])
	}
	return ids, nil
}

// GetJob fetches a job's record and the state set it currently belongs to.
func (r *RDB) GetJob(ctx context.Context, qname, id string) (*base.JobRecord, base.JobState, error) {
	k := r.keys(qname)
	m, err := r.client.HGetAll(ctx, k.Job(id)).Result()
	if err != nil {
		return nil, base.StateUnknown, err
	}
	if len(m) == 0 {
		return nil, base.StateUnknown, errors.E(errors.NotFound, fmt.Sprintf("job %q not found", id))
	}
	job, err := jobRecordFromHash(m)
	if err != nil {
		return nil, base.StateUnknown, err
	}
	state, err := r.locateState(ctx, k, id, job)
	if err != nil {
		return nil, base.StateUnknown, err
	}
	return job, state, nil
}

// locateState determines which state set currently holds id by probing each
// candidate set in turn. job.FinishedOn/FailedReason narrow the search for
// the common terminal cases before falling back to a full probe.
func (r *RDB) locateState(ctx context.Context, k base.Keys, id string, job *base.JobRecord) (base.JobState, error) {
	if job.FinishedOn > 0 {
		if job.FailedReason != "" {
			return base.StateFailed, nil
		}
		return base.StateCompleted, nil
	}

	pipe := r.client.Pipeline()
	activeCmd := pipe.SIsMember(ctx, k.Active(), id)
	waitingChildrenCmd := pipe.SIsMember(ctx, k.WaitingChildren(), id)
	prioritizedCmd := pipe.ZScore(ctx, k.Prioritized(), id)
	delayedCmd := pipe.ZScore(ctx, k.Delayed(), id)
	pausedCmd := pipe.LPos(ctx, k.Paused(), id, redis.LPosArgs{})
	_, _ = pipe.Exec(ctx)

	switch {
	case activeCmd.Val():
		return base.StateActive, nil
	case waitingChildrenCmd.Val():
		return base.StateWaitingChildren, nil
	case prioritizedCmd.Err() == nil:
		return base.StatePrioritized, nil
	case delayedCmd.Err() == nil:
		return base.StateDelayed, nil
	case pausedCmd.Err() == nil:
		return base.StatePaused, nil
	default:
		return base.StateWaiting, nil
	}
}

func jobRecordFromHash(m map[string]string) (*base.JobRecord, error) {
	job := &base.JobRecord{
		ID:              m["id"],
		Name:            m["name"],
		Data:            []byte(m["data"]),
		Timestamp:       cast.ToInt64(m["timestamp"]),
		Delay:           cast.ToInt64(m["delay"]),
		Priority:        cast.ToInt64(m["priority"]),
		AttemptsStarted: cast.ToInt(m["attemptsStarted"]),
		AttemptsMade:    cast.ToInt(m["attemptsMade"]),
		StalledCounter:  cast.ToInt(m["stalledCounter"]),
		FailedReason:    m["failedReason"],
		ReturnValue:     []byte(m["returnvalue"]),
		ProcessedOn:     cast.ToInt64(m["processedOn"]),
		FinishedOn:      cast.ToInt64(m["finishedOn"]),
		ParentKey:       m["parentKey"],
		RepeatJobKey:    m["repeatJobKey"],
	}
	if raw, ok := m["opts"]; ok && raw != "" {
		var opts base.JobOpts
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return nil, err
		}
		job.Opts = opts
	}
	if raw, ok := m["parent"]; ok && raw != "" {
		var p base.ParentRef
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		job.Parent = &p
	}
	if raw, ok := m["progress"]; ok && raw != "" {
		job.Progress = json.RawMessage(raw)
	}
	if raw, ok := m["stacktrace"]; ok && raw != "" {
		var trace []string
		if err := json.Unmarshal([]byte(raw), &trace); err == nil {
			job.Stacktrace = trace
		}
	}
	return job, nil
}

// GetJobCounts returns the number of jobs in each canonical state.
func (r *RDB) GetJobCounts(ctx context.Context, qname string) (map[string]int64, error) {
	k := r.keys(qname)
	pipe := r.client.Pipeline()
	wait := pipe.LLen(ctx, k.Wait())
	paused := pipe.LLen(ctx, k.Paused())
	active := pipe.SCard(ctx, k.Active())
	prioritized := pipe.ZCard(ctx, k.Prioritized())
	delayed := pipe.ZCard(ctx, k.Delayed())
	completed := pipe.ZCard(ctx, k.Completed())
	failed := pipe.ZCard(ctx, k.Failed())
	waitingChildren := pipe.SCard(ctx, k.WaitingChildren())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[string]int64{
		"waiting":          wait.Val(),
		"paused":           paused.Val(),
		"active":           active.Val(),
		"prioritized":      prioritized.Val(),
		"delayed":          delayed.Val(),
		"completed":        completed.Val(),
		"failed":           failed.Val(),
		"waiting-children": waitingChildren.Val(),
	}, nil
}

// GetJobs returns a page of job records for the given state, ordered as
// requested (asc = oldest/lowest-score first).
func (r *RDB) GetJobs(ctx context.Context, qname string, state base.JobState, start, stop int64, asc bool) ([]*base.JobRecord, error) {
	k := r.keys(qname)
	var ids []string
	var err error
	switch state {
	case base.StateWaiting:
		ids, err = r.client.LRange(ctx, k.Wait(), start, stop).Result()
	case base.StatePaused:
		ids, err = r.client.LRange(ctx, k.Paused(), start, stop).Result()
	case base.StateActive:
		ids, err = r.client.SMembers(ctx, k.Active()).Result()
	case base.StateWaitingChildren:
		ids, err = r.client.SMembers(ctx, k.WaitingChildren()).Result()
	case base.StatePrioritized:
		ids, err = rangeZSet(ctx, r.client, k.Prioritized(), start, stop, asc)
	case base.StateDelayed:
		ids, err = rangeZSet(ctx, r.client, k.Delayed(), start, stop, asc)
	case base.StateCompleted:
		ids, err = rangeZSet(ctx, r.client, k.Completed(), start, stop, asc)
	case base.StateFailed:
		ids, err = rangeZSet(ctx, r.client, k.Failed(), start, stop, asc)
	default:
		return nil, errors.E(errors.FailedPrecondition, fmt.Sprintf("unsupported job state %v", state))
	}
	if err != nil {
		return nil, err
	}
	jobs := make([]*base.JobRecord, 0, len(ids))
	for _, id := range ids {
		m, err := r.client.HGetAll(ctx, k.Job(id)).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		job, err := jobRecordFromHash(m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func rangeZSet(ctx context.Context, c redis.UniversalClient, key string, start, stop int64, asc bool) ([]string, error) {
	if asc {
		return c.ZRange(ctx, key, start, stop).Result()
	}
	return c.ZRevRange(ctx, key, start, stop).Result()
}

// AppendJobLog appends a line to a job's log list.
func (r *RDB) AppendJobLog(ctx context.Context, qname, id, line string) error {
	k := r.keys(qname)
	if err := r.client.RPush(ctx, k.JobLogs(id), line).Err(); err != nil {
		return err
	}
	return r.PublishEvent(ctx, qname, "log", map[string]interface{}{"jobId": id, "line": line})
}

// GetJobLogs returns every appended log line for a job, oldest first.
func (r *RDB) GetJobLogs(ctx context.Context, qname, id string) ([]string, error) {
	k := r.keys(qname)
	return r.client.LRange(ctx, k.JobLogs(id), 0, -1).Result()
}

// UpdateJobProgress records a job's current progress and publishes a
// "progress" event so QueueEvents listeners can stream it.
func (r *RDB) UpdateJobProgress(ctx context.Context, qname, id string, progress json.RawMessage) error {
	k := r.keys(qname)
	if err := r.client.HSet(ctx, k.Job(id), "progress", string(progress)).Err(); err != nil {
		return err
	}
	return r.PublishEvent(ctx, qname, "progress", map[string]interface{}{"jobId": id, "data": string(progress)})
}

// Clean trims a terminal (or wait/paused) state set down to jobs newer than
// grace, or to at most limit jobs, deleting their hashes as it goes.
func (r *RDB) Clean(ctx context.Context, qname string, grace time.Duration, limit int, state base.JobState) (int64, error) {
	k := r.keys(qname)
	var setKey string
	scored := "1"
	switch state {
	case base.StateCompleted:
		setKey = k.Completed()
	case base.StateFailed:
		setKey = k.Failed()
	case base.StateWaiting:
		setKey = k.Wait()
		scored = "0"
	case base.StatePaused:
		setKey = k.Paused()
		scored = "0"
	default:
		return 0, errors.E(errors.FailedPrecondition, fmt.Sprintf("clean does not support state %v", state))
	}
	removed, err := scripts.clean.Run(ctx, r.client, []string{setKey, k.Events()},
		r.queuePrefix(qname), grace.Milliseconds(), limit, nowMillis(), scored).Slice()
	if err != nil {
		return 0, err
	}
	return int64(len(removed)), nil
}

// Remove deletes a job outright. force bypasses the active/repeatable guards.
func (r *RDB) Remove(ctx context.Context, qname, id string, force bool) error {
	k := r.keys(qname)
	keys := []string{
		k.Active(), k.Wait(), k.Paused(), k.Prioritized(), k.Delayed(),
		k.Completed(), k.Failed(), k.WaitingChildren(), k.JobLock(id), k.JobLogs(id),
		k.Events(),
	}
	forceArg := "0"
	if force {
		forceArg = "1"
	}
	code, err := scripts.remove.Run(ctx, r.client, keys, id, r.queuePrefix(qname), forceArg).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, id)
}

// Promote moves a delayed job immediately to wait/prioritized.
func (r *RDB) Promote(ctx context.Context, qname, id string) error {
	k := r.keys(qname)
	keys := []string{k.Delayed(), k.Marker(), k.Wait(), k.Paused(), k.Prioritized(), k.PriorityCounter(), k.Meta(), k.Events(), k.WaitNotify()}
	code, err := scripts.promote.Run(ctx, r.client, keys, id, r.queuePrefix(qname)).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, id)
}

// Retry re-queues a completed or failed job.
func (r *RDB) Retry(ctx context.Context, qname, id string) error {
	k := r.keys(qname)
	_, state, err := r.GetJob(ctx, qname, id)
	if err != nil {
		return err
	}
	fromState := "failed"
	if state == base.StateCompleted {
		fromState = "completed"
	}
	keys := []string{k.Completed(), k.Failed(), k.Wait(), k.Paused(), k.Prioritized(), k.PriorityCounter(), k.Meta(), k.Events(), k.WaitNotify()}
	code, err := scripts.retryJob.Run(ctx, r.client, keys, id, r.queuePrefix(qname), fromState).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, id)
}

func codeToError(code int64, id string) error {
	if code == base.CodeOK {
		return nil
	}
	if code == base.CodeJobIsRepeatable {
		return errors.E(errors.FailedPrecondition, fmt.Sprintf("Job %s belongs to a job scheduler and cannot be removed directly. remove", id))
	}
	kind := errors.CanonicalCode(code)
	return errors.E(kind, fmt.Sprintf("job %q: script returned code %d", id, code))
}
