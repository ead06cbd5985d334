// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package rdb encapsulates the interactions with redis.
package rdb

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
)

//go:embed lua/*.lua
var luaFS embed.FS

func mustLoadScript(name string) *redis.Script {
	b, err := luaFS.ReadFile("lua/" + name + ".lua")
	if err != nil {
		panic(fmt.Sprintf("bullmq: missing embedded script %q: %v", name, err))
	}
	return redis.NewScript(string(b))
}

var scripts = struct {
	add                    *redis.Script
	addBulk                *redis.Script
	moveToActive           *redis.Script
	moveToCompleted        *redis.Script
	moveToFailed           *redis.Script
	moveToDelayed          *redis.Script
	moveToWaitingChildren  *redis.Script
	extendLock             *redis.Script
	releaseLock            *redis.Script
	remove                 *redis.Script
	promote                *redis.Script
	pause                  *redis.Script
	resume                 *redis.Script
	obliterate             *redis.Script
	retryJob               *redis.Script
	acquireStalledLease    *redis.Script
	checkStalled           *redis.Script
	propagateParentFailure *redis.Script
	upsertRepeatable       *redis.Script
	advanceRepeatable      *redis.Script
	removeRepeatable       *redis.Script
	clean                  *redis.Script
}{
	add:                    mustLoadScript("add"),
	addBulk:                mustLoadScript("add_bulk"),
	moveToActive:           mustLoadScript("move_to_active"),
	moveToCompleted:        mustLoadScript("move_to_completed"),
	moveToFailed:           mustLoadScript("move_to_failed"),
	moveToDelayed:          mustLoadScript("move_to_delayed"),
	moveToWaitingChildren:  mustLoadScript("move_to_waiting_children"),
	extendLock:             mustLoadScript("extend_lock"),
	releaseLock:            mustLoadScript("release_lock"),
	remove:                 mustLoadScript("remove"),
	promote:                mustLoadScript("promote"),
	pause:                  mustLoadScript("pause"),
	resume:                 mustLoadScript("resume"),
	obliterate:             mustLoadScript("obliterate"),
	retryJob:               mustLoadScript("retry_job"),
	acquireStalledLease:    mustLoadScript("acquire_stalled_lease"),
	checkStalled:           mustLoadScript("check_stalled"),
	propagateParentFailure: mustLoadScript("propagate_parent_failure"),
	upsertRepeatable:       mustLoadScript("upsert_repeatable"),
	advanceRepeatable:      mustLoadScript("advance_repeatable"),
	removeRepeatable:       mustLoadScript("remove_repeatable"),
	clean:                  mustLoadScript("clean"),
}

// RepeatStrategyFunc overrides the default next-occurrence computation for
// repeatable job definitions. It receives the millis the occurrence is
// computed from and the definition, and returns the next fire time in
// millis, or 0 to terminate the series.
type RepeatStrategyFunc func(millis int64, def base.RepeatableDef) (int64, error)

// RDB is the base.Broker implementation backed by a single redis.UniversalClient.
// It holds no queue-specific state beyond the caller's scheduler hooks; every
// method takes the queue name it operates on and derives the queue's key set
// from internal/base.Keys.
type RDB struct {
	client redis.UniversalClient
	prefix string

	// repeatStrategy, if set, overrides nextOccurrence for every repeatable
	// job definition upserted through this RDB.
	repeatStrategy RepeatStrategyFunc
}

// NewRDB returns a new RDB instance using the given redis client, keying
// every queue under the default "bull" prefix.
func NewRDB(client redis.UniversalClient) *RDB {
	return NewRDBWithPrefix(client, base.DefaultPrefix)
}

// NewRDBWithPrefix returns a new RDB instance using a caller-supplied key prefix.
func NewRDBWithPrefix(client redis.UniversalClient, prefix string) *RDB {
	return &RDB{client: client, prefix: prefix}
}

// NewRDBWithRepeatStrategy returns a new RDB instance using a caller-supplied
// key prefix and repeatable-job next-occurrence override.
func NewRDBWithRepeatStrategy(client redis.UniversalClient, prefix string, strategy RepeatStrategyFunc) *RDB {
	return &RDB{client: client, prefix: prefix, repeatStrategy: strategy}
}

func (r *RDB) keys(qname string) base.Keys {
	return base.NewKeys(r.prefix, qname)
}

func (r *RDB) queuePrefix(qname string) string {
	return base.QueuePrefix(r.prefix, qname)
}

// Ping checks the connection with redis server.
func (r *RDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection with redis server.
func (r *RDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying redis client, for callers (e.g. QueueEvents)
// that need direct stream/pubsub access the Broker interface doesn't expose.
func (r *RDB) Client() redis.UniversalClient {
	return r.client
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// splitQualifiedJobKey parses "<prefix>:<queue>:<id>" as produced by
// base.QualifiedJobKey, returning the queue name and job id.
func splitQualifiedJobKey(prefix, qualified string) (qname, id string, ok bool) {
	rest := strings.TrimPrefix(qualified, prefix+":")
	if rest == qualified {
		return "", "", false
	}
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
