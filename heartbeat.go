// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/log"
)

// heartbeater periodically publishes this worker process's liveness and
// in-flight jobs so operators can inspect it (the cmd/dashboard binary, or
// any other reader of bull:servers/bull:workers).
type heartbeater struct {
	logger   *log.Logger
	broker   base.Broker
	qname    string
	serverID string

	done     chan struct{}
	interval time.Duration

	concurrency int32

	mu     sync.Mutex
	active map[string]base.WorkerInfo
}

type heartbeaterParams struct {
	logger      *log.Logger
	broker      base.Broker
	qname       string
	serverID    string
	interval    time.Duration
	concurrency int
}

func newHeartbeater(p heartbeaterParams) *heartbeater {
	return &heartbeater{
		logger:      p.logger,
		broker:      p.broker,
		qname:       p.qname,
		serverID:    p.serverID,
		done:        make(chan struct{}),
		interval:    p.interval,
		concurrency: int32(p.concurrency),
		active:      make(map[string]base.WorkerInfo),
	}
}

// setConcurrency updates the concurrency value reported on the next
// heartbeat, tracking Worker.SetConcurrency.
func (h *heartbeater) setConcurrency(n int) {
	atomic.StoreInt32(&h.concurrency, int32(n))
}

func (h *heartbeater) jobStarted(job *Job, deadline time.Time) {
	host, _ := os.Hostname()
	h.mu.Lock()
	h.active[job.ID()] = base.WorkerInfo{
		Host:     host,
		PID:      os.Getpid(),
		ServerID: h.serverID,
		JobID:    job.ID(),
		Name:     job.Name(),
		Queue:    job.Queue(),
		Started:  time.Now(),
		Deadline: deadline,
	}
	h.mu.Unlock()
}

func (h *heartbeater) jobFinished(job *Job) {
	h.mu.Lock()
	delete(h.active, job.ID())
	h.mu.Unlock()
}

func (h *heartbeater) shutdown() {
	h.logger.Debug("Heartbeater shutting down...")
	close(h.done)
}

func (h *heartbeater) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.exec()
		timer := time.NewTimer(h.interval)
		defer timer.Stop()
		for {
			select {
			case <-h.done:
				h.logger.Debug("Heartbeater done")
				return
			case <-timer.C:
				h.exec()
				timer.Reset(h.interval)
			}
		}
	}()
}

func (h *heartbeater) exec() {
	host, _ := os.Hostname()
	h.mu.Lock()
	workers := make([]base.WorkerInfo, 0, len(h.active))
	for _, w := range h.active {
		workers = append(workers, w)
	}
	h.mu.Unlock()

	concurrency := int(atomic.LoadInt32(&h.concurrency))
	server := base.ServerInfo{
		Host:              host,
		PID:               os.Getpid(),
		ServerID:          h.serverID,
		Concurrency:       concurrency,
		Queues:            map[string]int{h.qname: concurrency},
		Started:           time.Now(),
		ActiveWorkerCount: len(workers),
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()
	if err := h.broker.PublishHeartbeat(ctx, server, workers, h.interval*3); err != nil {
		h.logger.Errorf("publish heartbeat: %v", err)
	}
}
