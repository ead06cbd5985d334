// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/errors"
	"github.com/nagyist/bullmq/internal/rdb"
	"github.com/redis/go-redis/v9"
)

// Queue is a producer handle for adding and inspecting jobs on a named
// queue. A Queue does not process jobs; pair it with a Worker for that.
type Queue struct {
	name             string
	broker           base.Broker
	sharedConnection bool
	hashAlgo         string
	defaultOpts      JobOptions
}

// NewQueue returns a Queue bound to name over the given redis connection.
func NewQueue(name string, r RedisConnOpt, opts QueueOptions) *Queue {
	client := toUniversalClient(r)
	return newQueueFromClient(name, client, opts, false)
}

// NewQueueFromRedisClient returns a Queue sharing an existing redis client.
// Close will not close the client.
func NewQueueFromRedisClient(name string, client redis.UniversalClient, opts QueueOptions) *Queue {
	return newQueueFromClient(name, client, opts, true)
}

func newQueueFromClient(name string, client redis.UniversalClient, opts QueueOptions, shared bool) *Queue {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	if err := base.ValidateQueueName(name); err != nil {
		panic(err)
	}
	hashAlgo := opts.RepeatKeyHashAlgorithm
	if hashAlgo == "" {
		hashAlgo = "md5"
	}
	var broker base.Broker
	if opts.RepeatStrategy != nil {
		broker = rdb.NewRDBWithRepeatStrategy(client, prefix, adaptRepeatStrategy(opts.RepeatStrategy))
	} else {
		broker = rdb.NewRDBWithPrefix(client, prefix)
	}
	return &Queue{
		name:             name,
		broker:           broker,
		sharedConnection: shared,
		hashAlgo:         hashAlgo,
		defaultOpts:      opts.DefaultJobOptions,
	}
}

// adaptRepeatStrategy bridges the public RepeatStrategy hook (RepeatOptions,
// name) to the store layer's base.RepeatableDef-shaped RepeatStrategyFunc.
func adaptRepeatStrategy(fn func(millis int64, repeat RepeatOptions, name string) (time.Time, error)) rdb.RepeatStrategyFunc {
	return func(millis int64, def base.RepeatableDef) (int64, error) {
		repeat := RepeatOptions{
			Pattern:     def.Pattern,
			Every:       time.Duration(def.Every) * time.Millisecond,
			TZ:          def.TZ,
			Limit:       def.Limit,
			Immediately: def.Immediately,
			UTC:         def.UTC,
			Key:         def.Key,
		}
		if def.StartDate > 0 {
			repeat.StartDate = time.UnixMilli(def.StartDate)
		}
		if def.EndDate > 0 {
			repeat.EndDate = time.UnixMilli(def.EndDate)
		}
		next, err := fn(millis, repeat, def.Name)
		if err != nil {
			return 0, err
		}
		if next.IsZero() {
			return 0, nil
		}
		return next.UnixMilli(), nil
	}
}

// Close releases the underlying redis connection, unless it was shared.
func (q *Queue) Close() error {
	if q.sharedConnection {
		return nil
	}
	return q.broker.Close()
}

// Ping checks connectivity to the redis store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.broker.Ping(ctx)
}

func marshalData(data interface{}) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(data)
}

// Add enqueues a new job. name identifies the job's handler and data is
// JSON-marshaled (or used as-is if already []byte). If opts.Repeat is set,
// Add instead installs (or advances) a repeatable job scheduler and returns
// its next scheduled occurrence.
func (q *Queue) Add(ctx context.Context, name string, data interface{}, opts JobOptions) (*Job, error) {
	payload, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults(q.defaultOpts)
	if opts.Repeat != nil {
		return q.addRepeatable(ctx, name, payload, opts)
	}
	now := time.Now()
	id, _, err := q.broker.Add(ctx, q.name, base.AddOptions{
		JobID: opts.JobID,
		Name:  name,
		Data:  payload,
		Opts:  opts.toBaseOpts(now),
	})
	if err != nil {
		return nil, err
	}
	record, state, err := q.broker.GetJob(ctx, q.name, id)
	if err != nil {
		return nil, err
	}
	return newJob(q.name, record, state, q.broker), nil
}

// validateRepeatOptions enforces the mutual-exclusivity and end-date
// constraints shared by addRepeatable and UpsertJobScheduler.
func validateRepeatOptions(repeat RepeatOptions) error {
	if repeat.Pattern != "" && repeat.Every > 0 {
		return errors.E(errors.FailedPrecondition, "Both .pattern and .every options are defined for this repeatable job")
	}
	if repeat.Pattern == "" && repeat.Every <= 0 {
		return errors.E(errors.FailedPrecondition, "Either .pattern or .every must be defined for this repeatable job")
	}
	if !repeat.EndDate.IsZero() && !repeat.EndDate.After(time.Now()) {
		return errors.E(errors.FailedPrecondition, "End date must be greater than current timestamp")
	}
	return nil
}

// addRepeatable implements the JobOptions.Repeat path of Add: fingerprint
// (or take verbatim) the scheduler's definition key, validate its
// recurrence, and upsert it. Returns nil, nil if the series' first
// occurrence is already past EndDate/Limit.
func (q *Queue) addRepeatable(ctx context.Context, name string, payload []byte, opts JobOptions) (*Job, error) {
	repeat := *opts.Repeat
	if err := validateRepeatOptions(repeat); err != nil {
		return nil, err
	}

	key := repeat.Key
	if key == "" {
		key = fingerprintRepeatKey(q.hashAlgo, name, opts.JobID, repeat)
	}
	var startDate, endDate int64
	if !repeat.StartDate.IsZero() {
		startDate = repeat.StartDate.UnixMilli()
	}
	if !repeat.EndDate.IsZero() {
		endDate = repeat.EndDate.UnixMilli()
	}

	occurrenceOpts := opts
	occurrenceOpts.Repeat = nil
	occurrenceOpts.repeatJobKey = key

	def := base.RepeatableDef{
		Key:         key,
		Name:        name,
		Pattern:     repeat.Pattern,
		Every:       repeat.Every.Milliseconds(),
		TZ:          repeat.TZ,
		StartDate:   startDate,
		EndDate:     endDate,
		Limit:       repeat.Limit,
		Immediately: repeat.Immediately,
		UTC:         repeat.UTC,
		JobID:       opts.JobID,
		Data:        payload,
		Opts:        occurrenceOpts.toBaseOpts(time.Now()),
	}
	next, err := q.broker.UpsertRepeatable(ctx, q.name, def)
	if err != nil {
		return nil, err
	}
	if next == 0 {
		return nil, nil
	}
	id := base.RepeatJobID(key, next)
	record, state, err := q.broker.GetJob(ctx, q.name, id)
	if err != nil {
		return nil, err
	}
	return newJob(q.name, record, state, q.broker), nil
}

// BulkJob describes one job to add via Queue.AddBulk.
type BulkJob struct {
	Name string
	Data interface{}
	Opts JobOptions
}

// AddBulk enqueues many jobs atomically, preserving relative order.
func (q *Queue) AddBulk(ctx context.Context, jobs []BulkJob) ([]*Job, error) {
	now := time.Now()
	specs := make([]base.AddOptions, 0, len(jobs))
	for _, j := range jobs {
		payload, err := marshalData(j.Data)
		if err != nil {
			return nil, err
		}
		opts := j.Opts.withDefaults(q.defaultOpts)
		specs = append(specs, base.AddOptions{
			JobID: opts.JobID,
			Name:  j.Name,
			Data:  payload,
			Opts:  opts.toBaseOpts(now),
		})
	}
	ids, err := q.broker.AddBulk(ctx, q.name, specs)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		record, state, err := q.broker.GetJob(ctx, q.name, id)
		if err != nil {
			return nil, err
		}
		out = append(out, newJob(q.name, record, state, q.broker))
	}
	return out, nil
}

// GetJob fetches a single job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	record, state, err := q.broker.GetJob(ctx, q.name, id)
	if err != nil {
		return nil, err
	}
	return newJob(q.name, record, state, q.broker), nil
}

// GetJobCounts returns the number of jobs in each canonical state.
func (q *Queue) GetJobCounts(ctx context.Context) (map[string]int64, error) {
	return q.broker.GetJobCounts(ctx, q.name)
}

// GetJobs returns a page of jobs in the given state.
func (q *Queue) GetJobs(ctx context.Context, state base.JobState, start, stop int64, asc bool) ([]*Job, error) {
	records, err := q.broker.GetJobs(ctx, q.name, state, start, stop, asc)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(records))
	for _, r := range records {
		jobs = append(jobs, newJob(q.name, r, state, q.broker))
	}
	return jobs, nil
}

// GetJobLogs returns every log line appended to a job, oldest first.
func (q *Queue) GetJobLogs(ctx context.Context, id string) ([]string, error) {
	return q.broker.GetJobLogs(ctx, q.name, id)
}

// Pause stops this queue's workers from receiving new jobs. Jobs already
// dispatched continue to completion.
func (q *Queue) Pause(ctx context.Context) error {
	return q.broker.Pause(ctx, q.name)
}

// Resume undoes Pause.
func (q *Queue) Resume(ctx context.Context) error {
	return q.broker.Resume(ctx, q.name)
}

// IsPaused reports whether the queue is currently paused.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.broker.IsPaused(ctx, q.name)
}

// Remove deletes a job outright. It refuses to remove an active or
// repeatable-owned job unless force is true.
func (q *Queue) Remove(ctx context.Context, id string, force bool) error {
	return q.broker.Remove(ctx, q.name, id, force)
}

// Promote moves a delayed job immediately into wait/prioritized.
func (q *Queue) Promote(ctx context.Context, id string) error {
	return q.broker.Promote(ctx, q.name, id)
}

// Retry re-queues a completed or failed job for another attempt.
func (q *Queue) Retry(ctx context.Context, id string) error {
	return q.broker.Retry(ctx, q.name, id)
}

// Obliterate deletes every key belonging to this queue. It refuses to run
// while jobs are active unless force is true.
func (q *Queue) Obliterate(ctx context.Context, force bool) error {
	return q.broker.Obliterate(ctx, q.name, force)
}

// Clean removes jobs in state older than grace, up to limit jobs.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, limit int, state base.JobState) (int64, error) {
	return q.broker.Clean(ctx, q.name, grace, limit, state)
}

// UpsertJobScheduler installs or replaces a repeatable job definition keyed
// by key, returning the computed next occurrence time.
func (q *Queue) UpsertJobScheduler(ctx context.Context, key string, repeat RepeatOptions, name string, data interface{}, opts JobOptions) (time.Time, error) {
	if err := validateRepeatOptions(repeat); err != nil {
		return time.Time{}, err
	}
	payload, err := marshalData(data)
	if err != nil {
		return time.Time{}, err
	}
	var startDate, endDate int64
	if !repeat.StartDate.IsZero() {
		startDate = repeat.StartDate.UnixMilli()
	}
	if !repeat.EndDate.IsZero() {
		endDate = repeat.EndDate.UnixMilli()
	}
	def := base.RepeatableDef{
		Key:         key,
		Name:        name,
		Pattern:     repeat.Pattern,
		Every:       repeat.Every.Milliseconds(),
		TZ:          repeat.TZ,
		StartDate:   startDate,
		EndDate:     endDate,
		Limit:       repeat.Limit,
		Immediately: repeat.Immediately,
		UTC:         repeat.UTC,
		JobID:       fmt.Sprintf("%s|%s", name, string(payload)),
		Data:        payload,
		Opts:        opts.toBaseOpts(time.Now()),
	}
	next, err := q.broker.UpsertRepeatable(ctx, q.name, def)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(next), nil
}

// RemoveJobScheduler removes a repeatable job definition and its pending
// occurrence, if any.
func (q *Queue) RemoveJobScheduler(ctx context.Context, key string) (bool, error) {
	return q.broker.RemoveRepeatable(ctx, q.name, key)
}

// GetJobSchedulers returns a page of installed repeatable job definitions.
func (q *Queue) GetJobSchedulers(ctx context.Context, offset, count int64, asc bool) ([]base.RepeatableDef, error) {
	return q.broker.GetRepeatableJobs(ctx, q.name, offset, count, asc)
}

// ListServers returns every currently live worker process heartbeat,
// across all queues sharing this Queue's redis connection and key prefix.
func (q *Queue) ListServers(ctx context.Context) ([]base.ServerInfo, error) {
	return q.broker.ListServers(ctx)
}

// ListWorkers returns every currently live in-flight-job heartbeat, across
// all queues sharing this Queue's redis connection and key prefix.
func (q *Queue) ListWorkers(ctx context.Context) ([]base.WorkerInfo, error) {
	return q.broker.ListWorkers(ctx)
}
