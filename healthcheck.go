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

// healthchecker is responsible for periodically checking the health of the
// redis server and invoking a user provided callback with the result of each
// check (nil when the server is reachable).
type healthchecker struct {
	logger *log.Logger
	broker base.Broker

	// channel to communicate back to the long running "healthchecker" goroutine.
	done chan struct{}

	// interval between healthchecks.
	interval time.Duration

	// user provided callback invoked after every ping with its error, or nil.
	healthcheckFunc func(error)
}

type healthcheckerParams struct {
	logger          *log.Logger
	broker          base.Broker
	interval        time.Duration
	healthcheckFunc func(error)
}

func newHealthChecker(params healthcheckerParams) *healthchecker {
	return &healthchecker{
		logger:          params.logger,
		broker:          params.broker,
		done:            make(chan struct{}),
		interval:        params.interval,
		healthcheckFunc: params.healthcheckFunc,
	}
}

func (hc *healthchecker) shutdown() {
	if hc.healthcheckFunc == nil {
		return
	}
	hc.logger.Debug("Healthchecker shutting down...")
	close(hc.done)
}

func (hc *healthchecker) start(wg *sync.WaitGroup) {
	if hc.healthcheckFunc == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(hc.interval)
		defer timer.Stop()
		for {
			select {
			case <-hc.done:
				hc.logger.Debug("Healthchecker done")
				return
			case <-timer.C:
				hc.exec()
				timer.Reset(hc.interval)
			}
		}
	}()
}

func (hc *healthchecker) exec() {
	ctx, cancel := context.WithTimeout(context.Background(), hc.interval)
	defer cancel()
	err := hc.broker.Ping(ctx)
	hc.healthcheckFunc(err)
}
