// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nagyist/bullmq/internal/base"
)

// Job is a handle onto one queued unit of work. Handlers receive a *Job and
// read its Data/Name; producers get one back from Queue.Add.
type Job struct {
	record *base.JobRecord
	state  base.JobState
	qname  string
	broker base.Broker
}

func newJob(qname string, record *base.JobRecord, state base.JobState, broker base.Broker) *Job {
	return &Job{record: record, state: state, qname: qname, broker: broker}
}

// ID returns the job's unique id within its queue.
func (j *Job) ID() string { return j.record.ID }

// Name returns the job's name, as passed to Queue.Add.
func (j *Job) Name() string { return j.record.Name }

// Queue returns the name of the queue this job belongs to.
func (j *Job) Queue() string { return j.qname }

// Data unmarshals the job's payload into v.
func (j *Job) Data(v interface{}) error {
	if len(j.record.Data) == 0 {
		return nil
	}
	return json.Unmarshal(j.record.Data, v)
}

// RawData returns the job's payload as raw bytes.
func (j *Job) RawData() []byte { return []byte(j.record.Data) }

// AttemptsMade returns how many attempts of this job have failed so far. The
// attempt currently being processed is not counted.
func (j *Job) AttemptsMade() int { return j.record.AttemptsMade }

// Timestamp returns when the job was added.
func (j *Job) Timestamp() time.Time { return time.UnixMilli(j.record.Timestamp) }

// ReturnValue unmarshals the job's completion result into v. Only valid for
// jobs fetched after completing.
func (j *Job) ReturnValue(v interface{}) error {
	if len(j.record.ReturnValue) == 0 {
		return nil
	}
	return json.Unmarshal(j.record.ReturnValue, v)
}

// Progress unmarshals the job's last reported progress into v.
func (j *Job) Progress(v interface{}) error {
	if len(j.record.Progress) == 0 {
		return nil
	}
	return json.Unmarshal(j.record.Progress, v)
}

// FailedReason returns the error message recorded for the most recent
// failed attempt, if any.
func (j *Job) FailedReason() string { return j.record.FailedReason }

// State reports which state set the job belonged to as of the last fetch.
func (j *Job) State() base.JobState { return j.state }

// ParentID returns the id of the job's parent in a flow, or "" if it has
// none.
func (j *Job) ParentID() string {
	if j.record.Parent == nil {
		return ""
	}
	return j.record.Parent.ID
}

// Log appends a line to the job's processing log, visible via Queue.GetJobLogs.
func (j *Job) Log(ctx context.Context, line string) error {
	return j.broker.AppendJobLog(ctx, j.qname, j.record.ID, line)
}

// UpdateProgress reports how far the handler has gotten, visible to
// QueueEvents listeners as a "progress" event. progress is marshaled to
// JSON, so it may be a number, string, or any JSON-serializable value.
func (j *Job) UpdateProgress(ctx context.Context, progress interface{}) error {
	b, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	if err := j.broker.UpdateJobProgress(ctx, j.qname, j.record.ID, b); err != nil {
		return err
	}
	j.record.Progress = b
	return nil
}

// Discard marks the job to skip further retries even if attempts remain.
// Takes effect the next time the handler returns an error.
func (j *Job) Discard() { j.record.Opts.Discard = true }
