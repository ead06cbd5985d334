// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

/*
Package bullmq is a distributed, persistent job queue backed by Redis (or
any Redis-compatible server-side-scripting store). Producers enqueue named
jobs with structured payloads; one or more Workers, across any number of
processes, atomically claim jobs, execute them, and report completion or
failure. The system guarantees at-least-once delivery, FIFO dispatch within
a priority class, bounded stall recovery, and supports delayed execution,
cron/interval repetition, rate limiting, retries with backoff, and
parent/child job dependencies (flows).

# Producing

	queue := bullmq.NewQueue("emails", bullmq.RedisClientOpt{Addr: "localhost:6379"}, bullmq.QueueOptions{})
	defer queue.Close()

	job, err := queue.Add(ctx, "welcome", map[string]int{"userID": 42}, bullmq.JobOptions{
		Attempts: 5,
		Backoff:  &bullmq.BackoffOptions{Type: "exponential", Delay: 10 * time.Second},
	})

# Processing

	worker := bullmq.NewWorker("emails", func(ctx context.Context, job *bullmq.Job) (interface{}, error) {
		var payload struct{ UserID int }
		if err := job.Data(&payload); err != nil {
			return nil, err
		}
		return nil, sendWelcomeEmail(payload.UserID)
	}, bullmq.RedisClientOpt{Addr: "localhost:6379"}, bullmq.WorkerOptions{Concurrency: 10})

	if err := worker.Run(ctx); err != nil {
		log.Fatal(err)
	}

# Architecture

Every queue's state lives entirely in Redis under keys prefixed
"<prefix>:{<queueName>}:" (internal/base.Keys); the hash-tag braces keep a
queue's keys co-located on one Redis Cluster shard. State transitions
(add, dispatch, complete, fail, retry, promote, ...) are single atomic Lua
scripts embedded from internal/rdb/lua, so contending workers never
observe a job in an inconsistent intermediate state.

A Worker runs several cooperating subsystems:
  - the fetch loop, dispatching up to Concurrency jobs at a time via
    moveToActive and handing each to the Processor;
  - a lock renewer per in-flight job, extending its Redis lease so a
    crashed worker's jobs can be reclaimed;
  - a leader-elected stalled checker, sweeping active for expired locks
    and requeuing or failing the jobs it finds;
  - an optional janitor, trimming old completed/failed jobs;
  - an optional healthchecker, pinging Redis on an interval.

Repeatable jobs are installed via Queue.UpsertJobScheduler and materialize
one occurrence at a time as a delayed job; each dispatch re-arms the next
occurrence in the same script that dispatches the current one, so exactly
one occurrence of a series is ever outstanding.

FlowProducer adds trees of jobs spanning one or more queues in one call,
wiring parent/child dependency tracking so a parent only leaves
waiting-children once every child has resolved (per its own propagation
policy: fail/continue/ignore/remove on child failure).
*/
package bullmq
