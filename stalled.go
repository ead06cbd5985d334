// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"sync"
	"time"

	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/log"
)

// stalledChecker periodically attempts to become the sole stalled-job
// sweeper for one queue, then requeues or terminally fails jobs whose
// processing lock expired without being renewed.
type stalledChecker struct {
	logger *log.Logger
	broker base.Broker
	qname  string

	done     chan struct{}
	interval time.Duration
	maxCount int
}

type stalledCheckerParams struct {
	logger   *log.Logger
	broker   base.Broker
	qname    string
	interval time.Duration
	maxCount int
}

func newStalledChecker(p stalledCheckerParams) *stalledChecker {
	return &stalledChecker{
		logger:   p.logger,
		broker:   p.broker,
		qname:    p.qname,
		done:     make(chan struct{}),
		interval: p.interval,
		maxCount: p.maxCount,
	}
}

func (c *stalledChecker) shutdown() {
	c.logger.Debug("Stalled checker shutting down...")
	close(c.done)
}

func (c *stalledChecker) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(c.interval)
		defer timer.Stop()
		for {
			select {
			case <-c.done:
				c.logger.Debug("Stalled checker done")
				return
			case <-timer.C:
				c.exec()
				timer.Reset(c.interval)
			}
		}
	}()
}

func (c *stalledChecker) exec() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	leader, err := c.broker.AcquireStalledCheckLease(ctx, c.qname, c.interval)
	if err != nil {
		c.logger.Errorf("acquire stalled check lease: %v", err)
		return
	}
	if !leader {
		return
	}
	requeued, exceeded, err := c.broker.CheckStalledJobs(ctx, c.qname, c.maxCount)
	if err != nil {
		c.logger.Errorf("check stalled jobs: %v", err)
		return
	}
	if len(requeued) > 0 {
		c.logger.Warnf("requeued %d stalled job(s) on %q", len(requeued), c.qname)
	}
	if len(exceeded) > 0 {
		c.logger.Warnf("failed %d stalled job(s) on %q after exceeding max stalled count", len(exceeded), c.qname)
	}
}
