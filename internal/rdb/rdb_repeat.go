// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
)

// isLegacyRepeatKey reports whether key uses the pre-hash composite layout
// ("<name>::::<suffix>") carried over from an older installation, rather
// than the current opaque hash layout.
func isLegacyRepeatKey(key string) bool {
	return strings.Contains(key, "::::")
}

// nextOccurrence computes the next fire time for a repeatable definition,
// either via the caller's RepeatStrategyFunc override or, by default, from
// its cron pattern or its fixed "every" interval.
func (r *RDB) nextOccurrence(def base.RepeatableDef, from time.Time) (int64, error) {
	if r.repeatStrategy != nil {
		return r.repeatStrategy(from.UnixMilli(), def)
	}
	return defaultNextOccurrence(def, from)
}

func defaultNextOccurrence(def base.RepeatableDef, from time.Time) (int64, error) {
	if def.Pattern != "" {
		sched, err := cron.ParseStandard(def.Pattern)
		if err != nil {
			return 0, errors.E(errors.FailedPrecondition, fmt.Sprintf("invalid repeat pattern %q: %v", def.Pattern, err))
		}
		loc := time.UTC
		if !def.UTC && def.TZ != "" {
			if l, err := time.LoadLocation(def.TZ); err == nil {
				loc = l
			}
		}
		return sched.Next(from.In(loc)).UnixMilli(), nil
	}
	if def.Every > 0 {
		return from.Add(time.Duration(def.Every) * time.Millisecond).UnixMilli(), nil
	}
	return 0, errors.E(errors.FailedPrecondition, "repeatable definition requires either pattern or every")
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertRepeatable installs (or replaces) a repeatable job definition and
// computes+schedules its next occurrence. Returns 0 if the series is
// already exhausted (its first occurrence would exceed EndDate or Limit),
// in which case no definition is installed.
func (r *RDB) UpsertRepeatable(ctx context.Context, qname string, def base.RepeatableDef) (int64, error) {
	k := r.keys(qname)
	from := time.Now()
	if def.StartDate > 0 {
		start := time.UnixMilli(def.StartDate)
		if start.After(from) {
			from = start
		}
	}

	existingCount, err := r.client.HGet(ctx, k.RepeatDef(def.Key), "count").Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}

	var next int64
	if def.Immediately && existingCount == 0 {
		next = from.UnixMilli()
	} else {
		next, err = r.nextOccurrence(def, from)
		if err != nil {
			return 0, err
		}
	}
	if def.EndDate > 0 && next > def.EndDate {
		next = 0
	}
	if def.Limit > 0 && existingCount >= def.Limit {
		next = 0
	}
	opts := def.Opts
	opts.RepeatJobKey = def.Key
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return 0, err
	}
	keys := []string{k.Repeat(), k.Delayed(), k.Marker(), k.PriorityCounter(), k.RepeatDef(def.Key)}
	res, err := scripts.upsertRepeatable.Run(ctx, r.client, keys,
		def.Key, def.Name, def.Pattern, def.Every, def.TZ, def.EndDate, def.StartDate, def.Limit, def.JobID,
		next, r.queuePrefix(qname), string(def.Data), string(optsJSON), nowMillis(),
		boolArg(def.Immediately), boolArg(def.UTC)).Int64()
	if err != nil {
		return 0, err
	}
	return res, nil
}

// advanceRepeatableViaGo installs the next occurrence of a repeatable series
// right after MoveToActive dispatches its current occurrence, in the same
// RDB.MoveToActive call. It computes the next fire time from that
// occurrence's own intended fire time (job.Timestamp + job.Delay) rather
// than whatever time it happens to run at, so back-to-back occurrences don't
// drift with however long dispatch or processing took.
//
// move_to_active.lua defers here whenever it can't compute the next
// occurrence itself: always for cron-pattern series, since Lua has no cron
// parser, and also for fixed-interval ("every") series when a custom
// RepeatStrategyFunc is registered, since only Go can consult it. Plain
// "every" series with no override are advanced inline in Lua instead.
func (r *RDB) advanceRepeatableViaGo(ctx context.Context, qname, repeatKey string, job *base.JobRecord) error {
	k := r.keys(qname)
	def, err := r.GetRepeatableDef(ctx, qname, repeatKey)
	if err != nil || def == nil {
		return err
	}
	from := time.UnixMilli(job.Timestamp + job.Delay)
	next, err := r.nextOccurrence(*def, from)
	if err != nil {
		return err
	}
	if def.EndDate > 0 && next > def.EndDate {
		next = 0
	}
	if def.Limit > 0 && def.Count >= def.Limit {
		next = 0
	}
	opts := job.Opts
	opts.RepeatJobKey = repeatKey
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	keys := []string{k.Repeat(), k.Delayed(), k.Marker(), k.PriorityCounter(), k.RepeatDef(repeatKey)}
	return scripts.advanceRepeatable.Run(ctx, r.client, keys,
		repeatKey, def.Name, next, r.queuePrefix(qname), string(job.Data), string(optsJSON), nowMillis()).Err()
}

// RemoveRepeatable removes a repeatable job definition and its outstanding
// occurrence, if any. Returns false if no definition existed under key.
func (r *RDB) RemoveRepeatable(ctx context.Context, qname, key string) (bool, error) {
	k := r.keys(qname)
	keys := []string{k.Repeat(), k.Delayed(), k.RepeatDef(key)}
	ok, err := scripts.removeRepeatable.Run(ctx, r.client, keys, key, r.queuePrefix(qname)).Int64()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// GetRepeatableJobs returns a page of installed repeatable definitions.
func (r *RDB) GetRepeatableJobs(ctx context.Context, qname string, offset, count int64, asc bool) ([]base.RepeatableDef, error) {
	k := r.keys(qname)
	stop := offset + count - 1
	if count <= 0 {
		stop = -1
	}
	keys, err := rangeZSet(ctx, r.client, k.Repeat(), offset, stop, asc)
	if err != nil {
		return nil, err
	}
	defs := make([]base.RepeatableDef, 0, len(keys))
	for _, key := range keys {
		m, err := r.client.HGetAll(ctx, k.RepeatDef(key)).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		next, _ := r.client.ZScore(ctx, k.Repeat(), key).Result()
		defs = append(defs, base.RepeatableDef{
			Key:         m["key"],
			Name:        m["name"],
			Pattern:     m["pattern"],
			Every:       cast.ToInt64(m["every"]),
			TZ:          m["tz"],
			EndDate:     cast.ToInt64(m["endDate"]),
			StartDate:   cast.ToInt64(m["startDate"]),
			Limit:       cast.ToInt64(m["limit"]),
			JobID:       m["jobId"],
			Immediately: cast.ToBool(m["immediately"]),
			UTC:         cast.ToBool(m["utc"]),
			Count:       cast.ToInt64(m["count"]),
			NextMillis:  int64(next),
			LegacyKey:   isLegacyRepeatKey(key),
		})
	}
	return defs, nil
}

// GetRepeatableDef fetches a single repeatable definition by key, returning
// nil if none is installed under it.
func (r *RDB) GetRepeatableDef(ctx context.Context, qname, key string) (*base.RepeatableDef, error) {
	k := r.keys(qname)
	m, err := r.client.HGetAll(ctx, k.RepeatDef(key)).Result()
	if err != nil || len(m) == 0 {
		return nil, err
	}
	return &base.RepeatableDef{
		Key:         m["key"],
		Name:        m["name"],
		Pattern:     m["pattern"],
		Every:       cast.ToInt64(m["every"]),
		TZ:          m["tz"],
		EndDate:     cast.ToInt64(m["endDate"]),
		StartDate:   cast.ToInt64(m["startDate"]),
		Limit:       cast.ToInt64(m["limit"]),
		JobID:       m["jobId"],
		Immediately: cast.ToBool(m["immediately"]),
		UTC:         cast.ToBool(m["utc"]),
		Count:       cast.ToInt64(m["count"]),
		LegacyKey:   isLegacyRepeatKey(key),
	}, nil
}
