// Copyright 2022 Kentaro Hibino. All rights reserved.
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

// janitor is responsible for periodically trimming terminal jobs older than
// a grace period off a queue's completed/failed sets.
type janitor struct {
	logger *log.Logger
	broker base.Broker
	qname  string

	// channel to communicate back to the long running "janitor" goroutine.
	done chan struct{}

	// interval between cleanup runs.
	interval time.Duration

	// grace period and batch size applied to each Clean call.
	grace     time.Duration
	batchSize int

	states []base.JobState
}

type janitorParams struct {
	logger    *log.Logger
	broker    base.Broker
	qname     string
	interval  time.Duration
	grace     time.Duration
	batchSize int
}

func newJanitor(params janitorParams) *janitor {
	return &janitor{
		logger:    params.logger,
		broker:    params.broker,
		qname:     params.qname,
		done:      make(chan struct{}),
		interval:  params.interval,
		grace:     params.grace,
		batchSize: params.batchSize,
		states:    []base.JobState{base.StateCompleted, base.StateFailed},
	}
}

func (j *janitor) shutdown() {
	if j.interval <= 0 {
		return
	}
	j.logger.Debug("Janitor shutting down...")
	close(j.done)
}

func (j *janitor) start(wg *sync.WaitGroup) {
	if j.interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(j.interval)
		defer timer.Stop()
		for {
			select {
			case <-j.done:
				j.logger.Debug("Janitor done")
				return
			case <-timer.C:
				j.exec()
				timer.Reset(j.interval)
			}
		}
	}()
}

func (j *janitor) exec() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()
	for _, state := range j.states {
		if _, err := j.broker.Clean(ctx, j.qname, j.grace, j.batchSize, state); err != nil {
			j.logger.Errorf("failed to clean %s jobs from queue %q: %v", state, j.qname, err)
		}
	}
}
