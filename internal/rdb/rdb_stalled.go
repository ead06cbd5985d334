// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/spf13/cast"
)

// AcquireStalledCheckLease attempts to become the sole stalled-checker
// leader for this queue for the given interval. Only the leader should run
// CheckStalledJobs during that window.
func (r *RDB) AcquireStalledCheckLease(ctx context.Context, qname string, interval time.Duration) (bool, error) {
	k := r.keys(qname)
	ok, err := scripts.acquireStalledLease.Run(ctx, r.client, []string{k.StalledCheck()}, interval.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// CheckStalledJobs sweeps active for jobs whose lock has expired, requeuing
// those within maxStalledCount and terminally failing the rest. Exceeded
// jobs' parents (which may live in a different queue's key space) are
// propagated to separately via propagateParentFailure.
func (r *RDB) CheckStalledJobs(ctx context.Context, qname string, maxStalledCount int) ([]string, []string, error) {
	k := r.keys(qname)
	keys := []string{k.Active(), k.Wait(), k.Paused(), k.Prioritized(), k.PriorityCounter(), k.Meta(), k.Failed(), k.Events(), k.WaitNotify()}
	res, err := scripts.checkStalled.Run(ctx, r.client, keys, r.queuePrefix(qname), maxStalledCount, nowMillis(), "").Slice()
	if err != nil {
		return nil, nil, err
	}
	var requeued, exceeded []string
	target := &requeued
	for _, v := range res {
		s := cast.ToString(v)
		if s == "|" {
			target = &exceeded
			continue
		}
		*target = append(*target, s)
	}
	if len(exceeded) > 0 {
		if err := r.propagateExceededParents(ctx, qname, exceeded); err != nil {
			return requeued, exceeded, err
		}
	}
	return requeued, exceeded, nil
}

// propagateExceededParents applies the configured parent failure policy for
// each stalled-out job to its parent, one script call per job since parents
// may be scattered across different queues' key spaces. The script itself
// then walks further up the chain past that immediate parent.
func (r *RDB) propagateExceededParents(ctx context.Context, qname string, exceededIDs []string) error {
	for _, id := range exceededIDs {
		job, _, err := r.GetJob(ctx, qname, id)
		if err != nil {
			continue
		}
		hasParent, pqname, pid := parentRefOf(job, r.prefix)
		if !hasParent {
			continue
		}
		pk := r.keys(pqname)
		keys := []string{pk.WaitingChildren(), pk.Wait(), pk.Prioritized(), pk.PriorityCounter(), pk.Job(pid), pk.Failed(), pk.Events()}
		parentPolicy := base.ParentPolicyOf(job.Opts)
		if parentPolicy == "" {
			continue
		}
		qualifiedChildKey := base.QualifiedJobKey(r.prefix, qname, id)
		parentQueueKey := base.QueuePrefix(r.prefix, pqname)
		if err := scripts.propagateParentFailure.Run(ctx, r.client, keys,
			pid, parentPolicy, qualifiedChildKey, "job stalled more than allowable limit", nowMillis(), parentQueueKey).Err(); err != nil {
			return err
		}
	}
	return nil
}
