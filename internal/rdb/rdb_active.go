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
	"github.com/spf13/cast"
)

// MoveToActive dispatches the next ready job to the caller, honoring pause,
// rate limiting, and the prioritized > wait > due-delayed precedence order.
func (r *RDB) MoveToActive(ctx context.Context, qname, token string, lockDuration time.Duration, limiter *base.LimiterOptions) (*base.ActiveResult, error) {
	k := r.keys(qname)
	keys := []string{k.Wait(), k.Meta(), k.Active(), k.Prioritized(), k.Delayed(), k.Marker(), k.Limiter(), k.Events(), k.PriorityCounter()}
	limiterMax, limiterDuration := int64(0), int64(0)
	if limiter != nil {
		limiterMax = limiter.Max
		limiterDuration = limiter.Duration.Milliseconds()
	}
	hasCustomStrategy := int64(0)
	if r.repeatStrategy != nil {
		hasCustomStrategy = 1
	}
	res, err := scripts.moveToActive.Run(ctx, r.client, keys,
		token, lockDuration.Milliseconds(), nowMillis(), r.queuePrefix(qname), limiterMax, limiterDuration, hasCustomStrategy).Slice()
	if err != nil {
		return nil, err
	}
	code := cast.ToInt64(res[0])
	id := cast.ToString(res[1])
	extra := cast.ToInt64(res[2])
	var repeatAdvance string
	if len(res) > 3 {
		repeatAdvance = cast.ToString(res[3])
	}

	switch code {
	case base.CodeOK:
		job, _, err := r.GetJob(ctx, qname, id)
		if err != nil {
			return nil, err
		}
		if repeatAdvance != "" {
			if err := r.advanceRepeatableViaGo(ctx, qname, repeatAdvance, job); err != nil {
				return nil, err
			}
		}
		return &base.ActiveResult{Job: job, ID: id}, nil
	case base.CodeQueuePaused:
		return &base.ActiveResult{}, nil
	case base.CodeRateLimited:
		return &base.ActiveResult{LimitUntil: extra}, nil
	case base.CodeNoJobReady:
		return &base.ActiveResult{DelayUntil: extra}, nil
	default:
		return nil, errors.E(errors.Internal, fmt.Sprintf("move_to_active: unexpected code %d", code))
	}
}

// parentRefOf reports whether job has a parent and, if so, the parent's
// queue name (recovered from its qualified QueueKey) and job id.
func parentRefOf(job *base.JobRecord, prefix string) (hasParent bool, qname, id string) {
	if job == nil || job.Parent == nil || job.Parent.ID == "" {
		return false, "", ""
	}
	qn, _, ok := splitQualifiedJobKey(prefix, job.Parent.QueueKey)
	if !ok {
		return false, "", ""
	}
	return true, qn, job.Parent.ID
}

func encodeRemovePolicy(remove *base.RemoveOnTerminate) (string, error) {
	if remove == nil {
		return "", nil
	}
	b, err := json.Marshal(remove)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MoveToCompleted records a successful result and unblocks the job's parent,
// if any, when this was its last unresolved dependency.
func (r *RDB) MoveToCompleted(ctx context.Context, qname, id, token string, returnValue []byte, remove *base.RemoveOnTerminate) error {
	k := r.keys(qname)
	job, _, err := r.GetJob(ctx, qname, id)
	if err != nil {
		return err
	}
	hasParent, pqname, pid := parentRefOf(job, r.prefix)
	var parentWC, parentWait, parentPrio, parentPC, parentJobKey, parentEvents, parentQueueKey string
	if hasParent {
		pk := r.keys(pqname)
		parentWC, parentWait, parentPrio, parentPC, parentJobKey, parentEvents =
			pk.WaitingChildren(), pk.Wait(), pk.Prioritized(), pk.PriorityCounter(), pk.Job(pid), pk.Events()
		parentQueueKey = base.QueuePrefix(r.prefix, pqname)
	}
	removeJSON, err := encodeRemovePolicy(remove)
	if err != nil {
		return err
	}
	keys := []string{
		k.Active(), k.Completed(), k.Events(), k.JobLock(id),
		parentWC, parentWait, parentPrio, parentPC, parentJobKey, parentEvents,
	}
	hasParentArg := "0"
	if hasParent {
		hasParentArg = "1"
	}
	code, err := scripts.moveToCompleted.Run(ctx, r.client, keys,
		id, token, nowMillis(), string(returnValue), removeJSON, r.queuePrefix(qname), hasParentArg, pid, parentQueueKey).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, id)
}

// MoveToFailed records a processing failure, either requeuing the job for
// retry or terminally failing it and propagating to its parent per
// parentPolicy.
func (r *RDB) MoveToFailed(ctx context.Context, qname, id, token, reason string, stackTraceLimit int, willRetry bool, retryDelay time.Duration, remove *base.RemoveOnTerminate, parentPolicy string) error {
	k := r.keys(qname)
	job, _, err := r.GetJob(ctx, qname, id)
	if err != nil {
		return err
	}
	hasParent, pqname, pid := parentRefOf(job, r.prefix)
	var parentWC, parentWait, parentPrio, parentPC, parentJobKey, parentFailed, parentEvents string
	var qualifiedChildKey, parentQueueKey string
	if hasParent {
		pk := r.keys(pqname)
		parentWC, parentWait, parentPrio, parentPC, parentJobKey, parentFailed, parentEvents =
			pk.WaitingChildren(), pk.Wait(), pk.Prioritized(), pk.PriorityCounter(), pk.Job(pid), pk.Failed(), pk.Events()
		qualifiedChildKey = base.QualifiedJobKey(r.prefix, qname, id)
		parentQueueKey = base.QueuePrefix(r.prefix, pqname)
	}
	removeJSON, err := encodeRemovePolicy(remove)
	if err != nil {
		return err
	}
	keys := []string{
		k.Active(), k.Failed(), k.Events(), k.JobLock(id), k.Wait(), k.Delayed(), k.Marker(),
		k.Prioritized(), k.PriorityCounter(), k.Meta(), k.Paused(),
		parentWC, parentWait, parentPrio, parentPC, parentJobKey, parentFailed, parentEvents,
		k.WaitNotify(),
	}
	willRetryArg, hasParentArg := "0", "0"
	if willRetry {
		willRetryArg = "1"
	}
	if hasParent {
		hasParentArg = "1"
	}
	code, err := scripts.moveToFailed.Run(ctx, r.client, keys,
		id, token, nowMillis(), reason, stackTraceLimit, r.queuePrefix(qname),
		willRetryArg, retryDelay.Milliseconds(), removeJSON, parentPolicy, hasParentArg, pid, qualifiedChildKey, parentQueueKey).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, id)
}

// MoveToDelayed postpones an active job to fire again at processAt.
func (r *RDB) MoveToDelayed(ctx context.Context, qname, id, token string, processAt time.Time) error {
	k := r.keys(qname)
	keys := []string{k.Active(), k.Delayed(), k.Marker(), k.JobLock(id), k.PriorityCounter(), k.Events()}
	code, err := scripts.moveToDelayed.Run(ctx, r.client, keys,
		id, token, processAt.UnixMilli(), r.queuePrefix(qname)).Int64()
	if err != nil {
		return err
	}
	return codeToError(code, id)
}

// MoveToWaitingChildren transitions an active job to waiting-children iff it
// still has unresolved dependencies.
func (r *RDB) MoveToWaitingChildren(ctx context.Context, qname, id, token string) (bool, error) {
	k := r.keys(qname)
	keys := []string{k.Active(), k.WaitingChildren(), k.JobLock(id), k.Events()}
	res, err := scripts.moveToWaitingChildren.Run(ctx, r.client, keys, id, token, r.queuePrefix(qname)).Slice()
	if err != nil {
		return false, err
	}
	code := cast.ToInt64(res[0])
	if err := codeToError(code, id); err != nil {
		return false, err
	}
	return cast.ToInt(res[1]) == 1, nil
}

// ExtendLock renews a job's processing lock iff token still matches.
func (r *RDB) ExtendLock(ctx context.Context, qname, id, token string, duration time.Duration) (bool, error) {
	k := r.keys(qname)
	ok, err := scripts.extendLock.Run(ctx, r.client, []string{k.JobLock(id)}, token, duration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// ReleaseLock releases a job's processing lock iff token still matches.
func (r *RDB) ReleaseLock(ctx context.Context, qname, id, token string) error {
	k := r.keys(qname)
	_, err := scripts.releaseLock.Run(ctx, r.client, []string{k.JobLock(id)}, token).Int64()
	return err
}
