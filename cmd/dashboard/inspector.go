// Package main provides a web-based monitoring dashboard for bullmq queues.
package main

import (
	"context"
	"sort"

	"github.com/nagyist/bullmq"
	"github.com/nagyist/bullmq/internal/base"
	"github.com/redis/go-redis/v9"
)

// Inspector provides read-only access to a fixed set of named queues,
// sharing one redis connection across them.
type Inspector struct {
	client redis.UniversalClient
	queues map[string]*bullmq.Queue
	names  []string
}

// NewInspector creates an Inspector watching the given queue names.
func NewInspector(client redis.UniversalClient, queueNames []string) *Inspector {
	queues := make(map[string]*bullmq.Queue, len(queueNames))
	for _, name := range queueNames {
		queues[name] = bullmq.NewQueueFromRedisClient(name, client, bullmq.QueueOptions{})
	}
	names := append([]string(nil), queueNames...)
	sort.Strings(names)
	return &Inspector{client: client, queues: queues, names: names}
}

// QueueInfo holds per-state job counts and pause state for one queue.
type QueueInfo struct {
	Name   string
	Counts map[string]int64
	Paused bool
}

// DashboardStats holds aggregated statistics across every watched queue.
type DashboardStats struct {
	TotalQueues   int
	TotalsByState map[string]int64
	ActiveServers int
	ActiveWorkers int
}

// GetQueues returns summary info for every watched queue, sorted by name.
func (i *Inspector) GetQueues(ctx context.Context) ([]QueueInfo, error) {
	infos := make([]QueueInfo, 0, len(i.names))
	for _, name := range i.names {
		q := i.queues[name]
		counts, err := q.GetJobCounts(ctx)
		if err != nil {
			continue
		}
		paused, _ := q.IsPaused(ctx)
		infos = append(infos, QueueInfo{Name: name, Counts: counts, Paused: paused})
	}
	return infos, nil
}

// GetServers returns every live worker process heartbeat.
func (i *Inspector) GetServers(ctx context.Context) ([]base.ServerInfo, error) {
	for _, q := range i.queues {
		return q.ListServers(ctx)
	}
	return nil, nil
}

// GetDashboardStats aggregates job counts and worker liveness across every
// watched queue.
func (i *Inspector) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	queues, err := i.GetQueues(ctx)
	if err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{TotalQueues: len(queues), TotalsByState: make(map[string]int64)}
	for _, q := range queues {
		for state, n := range q.Counts {
			stats.TotalsByState[state] += n
		}
	}

	servers, _ := i.GetServers(ctx)
	stats.ActiveServers = len(servers)
	for _, s := range servers {
		stats.ActiveWorkers += s.ActiveWorkerCount
	}

	return stats, nil
}

// GetJobs returns a page of jobs in the given state for one queue.
func (i *Inspector) GetJobs(ctx context.Context, qname string, state base.JobState, limit int) ([]*bullmq.Job, error) {
	q, ok := i.queues[qname]
	if !ok {
		return nil, nil
	}
	return q.GetJobs(ctx, state, 0, int64(limit-1), true)
}

// Queue returns the named watched queue, or nil if it is not being watched.
func (i *Inspector) Queue(qname string) *bullmq.Queue {
	return i.queues[qname]
}
