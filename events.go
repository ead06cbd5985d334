// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/rdb"
	"github.com/redis/go-redis/v9"
)

// Event is one lifecycle notification read off a queue's events stream:
// added, active, completed, failed, progress, removed, stalled, etc.
type Event struct {
	ID     string
	Kind   string
	JobID  string
	Fields map[string]interface{}
}

// QueueEvents observes a queue's lifecycle event stream. Unlike Worker, it
// does not process jobs; it is a read-only tail of what happened.
type QueueEvents struct {
	name             string
	broker           base.Broker
	sharedConnection bool
	lastID           string
}

// NewQueueEvents returns a QueueEvents observer bound to name.
func NewQueueEvents(name string, r RedisConnOpt, opts QueueOptions) *QueueEvents {
	client := toUniversalClient(r)
	return newQueueEventsFromClient(name, client, opts, false)
}

// NewQueueEventsFromRedisClient returns a QueueEvents observer sharing an
// existing redis client. Close will not close the client.
func NewQueueEventsFromRedisClient(name string, client redis.UniversalClient, opts QueueOptions) *QueueEvents {
	return newQueueEventsFromClient(name, client, opts, true)
}

func newQueueEventsFromClient(name string, client redis.UniversalClient, opts QueueOptions, shared bool) *QueueEvents {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	return &QueueEvents{
		name:             name,
		broker:           rdb.NewRDBWithPrefix(client, prefix),
		sharedConnection: shared,
		lastID:           "$",
	}
}

// Close releases the underlying redis connection, unless it was shared.
func (e *QueueEvents) Close() error {
	if e.sharedConnection {
		return nil
	}
	return e.broker.Close()
}

// Run blocks, invoking handler for each event as it is published, until ctx
// is done.
func (e *QueueEvents) Run(ctx context.Context, handler func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		next, events, err := e.broker.ReadEvents(ctx, e.name, e.lastID, 100, 5*time.Second)
		if err != nil {
			return err
		}
		e.lastID = next
		for _, ev := range events {
			handler(Event{ID: ev.ID, Kind: ev.Kind, JobID: ev.JobID, Fields: ev.Fields})
		}
	}
}
