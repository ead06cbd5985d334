// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"errors"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// PublishEvent appends a lifecycle event to the queue's capped events stream.
func (r *RDB) PublishEvent(ctx context.Context, qname, kind string, fields map[string]interface{}) error {
	k := r.keys(qname)
	values := make(map[string]interface{}, len(fields)+1)
	values["event"] = kind
	for key, v := range fields {
		values[key] = v
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: k.Events(),
		MaxLen: 10000,
		Approx: true,
		Values: values,
	}).Err()
}

// ReadEvents reads events published since lastID ("0" or "$" for new-only),
// blocking for up to block if none are immediately available.
func (r *RDB) ReadEvents(ctx context.Context, qname, lastID string, count int64, block time.Duration) (string, []base.Event, error) {
	k := r.keys(qname)
	if lastID == "" {
		lastID = "0"
	}
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{k.Events(), lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return lastID, nil, nil
		}
		return lastID, nil, err
	}
	if len(res) == 0 {
		return lastID, nil, nil
	}
	events := make([]base.Event, 0, len(res[0].Messages))
	next := lastID
	for _, msg := range res[0].Messages {
		fields := make(map[string]interface{}, len(msg.Values))
		for field, v := range msg.Values {
			fields[field] = v
		}
		kind := cast.ToString(fields["event"])
		jobID := cast.ToString(fields["jobId"])
		events = append(events, base.Event{ID: msg.ID, Kind: kind, JobID: jobID, Fields: fields})
		next = msg.ID
	}
	return next, events, nil
}
