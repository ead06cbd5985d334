// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package bullmq

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nagyist/bullmq/internal/base"
	"github.com/nagyist/bullmq/internal/log"
	"github.com/nagyist/bullmq/internal/rdb"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Processor handles one job. A non-nil error causes the job to be retried
// (subject to JobOptions.Attempts/Discard) or terminally failed. The
// returned value, if any, is recorded as the job's return value.
type Processor func(ctx context.Context, job *Job) (interface{}, error)

// concurrencyGate is a counting semaphore whose limit can be changed while
// callers are blocked in acquire, unlike a fixed-capacity channel. fetchLoop
// re-reads the limit on every acquire, so SetConcurrency takes effect on the
// very next fetch cycle rather than requiring a worker restart.
type concurrencyGate struct {
	mu     sync.Mutex
	limit  int
	used   int
	notify chan struct{} // closed and replaced whenever used or limit changes
}

func newConcurrencyGate(limit int) *concurrencyGate {
	return &concurrencyGate{limit: limit, notify: make(chan struct{})}
}

func (g *concurrencyGate) setLimit(n int) {
	g.mu.Lock()
	g.limit = n
	ch := g.notify
	g.notify = make(chan struct{})
	g.mu.Unlock()
	close(ch)
}

// acquire blocks until a slot is free, returning false if ctx or done fires
// first.
func (g *concurrencyGate) acquire(ctx context.Context, done <-chan struct{}) bool {
	for {
		g.mu.Lock()
		if g.used < g.limit {
			g.used++
			g.mu.Unlock()
			return true
		}
		wait := g.notify
		g.mu.Unlock()
		select {
		case <-wait:
		case <-done:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (g *concurrencyGate) release() {
	g.mu.Lock()
	g.used--
	ch := g.notify
	g.notify = make(chan struct{})
	g.mu.Unlock()
	close(ch)
}

// ErrWorkerClosed is returned by Run/Start when the Worker has already been
// closed.
var ErrWorkerClosed = errors.New("bullmq: worker closed")

type workerStateValue int32

const (
	workerStateNew workerStateValue = iota
	workerStateActive
	workerStateStopped
	workerStateClosed
)

// Worker pulls jobs off one queue and dispatches them to a Processor,
// honoring concurrency, lock renewal, rate limiting, and stalled-job
// recovery.
type Worker struct {
	name   string
	logger *log.Logger
	broker base.Broker

	opts             WorkerOptions
	processor        Processor
	sharedConnection bool

	mu    sync.Mutex
	state workerStateValue

	sem *concurrencyGate
	eg  *errgroup.Group
	wg  sync.WaitGroup

	done chan struct{}

	localPaused int32 // set via Pause/Resume; does not touch the queue's shared pause flag
	drained     int32 // set once the "drained" event has fired for the current empty streak

	// localLimiter throttles this process's own dispatch rate so it doesn't
	// spin hammering MoveToActive once the distributed limiter in Redis
	// starts rejecting it. It complements, never replaces, the Lua-side
	// limiter: with multiple worker processes sharing a queue, only the
	// Redis-side check is authoritative.
	localLimiter *rate.Limiter

	stalled      *stalledChecker
	health       *healthchecker
	clean        *janitor
	heartbeat    *heartbeater
	cancelations *base.Cancelations

	// notify wakes fetchLoop as soon as a job becomes dispatchable, instead
	// of it having to wait out a full DrainDelay poll. Set in Start; nil (and
	// fetchLoop falls back to plain polling) if the subscription could not
	// be established.
	notify base.WaitNotifySubscription
}

// NewWorker returns a Worker bound to qname that will invoke processor for
// each dispatched job once Run or Start is called.
func NewWorker(qname string, processor Processor, r RedisConnOpt, opts WorkerOptions) *Worker {
	client := toUniversalClient(r)
	return newWorkerFromClient(qname, processor, client, opts, false)
}

// NewWorkerFromRedisClient returns a Worker sharing an existing redis
// client. Close will not close the client.
func NewWorkerFromRedisClient(qname string, processor Processor, client redis.UniversalClient, opts WorkerOptions) *Worker {
	return newWorkerFromClient(qname, processor, client, opts, true)
}

func newWorkerFromClient(qname string, processor Processor, client redis.UniversalClient, opts WorkerOptions, shared bool) *Worker {
	o := opts.withDefaults()
	prefix := o.Prefix
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	if err := base.ValidateQueueName(qname); err != nil {
		panic(err)
	}
	logger := newLogger(o.Logger, o.LogLevel)
	var broker base.Broker
	if o.RepeatStrategy != nil {
		broker = rdb.NewRDBWithRepeatStrategy(client, prefix, adaptRepeatStrategy(o.RepeatStrategy))
	} else {
		broker = rdb.NewRDBWithPrefix(client, prefix)
	}
	w := &Worker{
		name:             qname,
		logger:           logger,
		broker:           broker,
		opts:             o,
		processor:        processor,
		sharedConnection: shared,
		sem:              newConcurrencyGate(o.Concurrency),
		done:             make(chan struct{}),
		cancelations:     base.NewCancelations(),
	}
	w.stalled = newStalledChecker(stalledCheckerParams{
		logger:   logger,
		broker:   broker,
		qname:    qname,
		interval: o.StalledInterval,
		maxCount: o.MaxStalledCount,
	})
	w.health = newHealthChecker(healthcheckerParams{
		logger:          logger,
		broker:          broker,
		interval:        o.HealthCheckInterval,
		healthcheckFunc: o.HealthCheckFunc,
	})
	w.clean = newJanitor(janitorParams{
		logger:    logger,
		broker:    broker,
		qname:     qname,
		interval:  o.CleanInterval,
		grace:     o.CleanGrace,
		batchSize: o.CleanBatchSize,
	})
	w.heartbeat = newHeartbeater(heartbeaterParams{
		logger:      logger,
		broker:      broker,
		qname:       qname,
		serverID:    uuid.NewString(),
		interval:    heartbeatInterval,
		concurrency: o.Concurrency,
	})
	if o.Limiter != nil && o.Limiter.Max > 0 && o.Limiter.Duration > 0 {
		w.localLimiter = rate.NewLimiter(rate.Limit(float64(o.Limiter.Max)/o.Limiter.Duration.Seconds()), int(o.Limiter.Max))
	}
	return w
}

const heartbeatInterval = 5 * time.Second

// Run starts processing and blocks until ctx is done, then drains in-flight
// jobs before returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Close()
}

// RunUntilSignal starts processing and blocks until the process receives
// SIGTERM/SIGINT (or os.Interrupt on Windows), then drains in-flight jobs
// before returning. SIGTSTP pauses fetching without exiting.
func (w *Worker) RunUntilSignal(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	w.waitForSignals()
	return w.Close()
}

// Start begins processing jobs in the background. Callers must eventually
// call Close to release resources.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case workerStateActive:
		w.mu.Unlock()
		return fmt.Errorf("bullmq: worker already started")
	case workerStateClosed:
		w.mu.Unlock()
		return ErrWorkerClosed
	}
	w.state = workerStateActive
	w.mu.Unlock()

	if sub, err := w.broker.SubscribeWaitNotify(ctx, w.name); err != nil {
		w.logger.Errorf("subscribe wait-notify, falling back to polling: %v", err)
	} else {
		w.notify = sub
	}

	w.eg = &errgroup.Group{}
	w.stalled.start(&w.wg)
	w.health.start(&w.wg)
	w.clean.start(&w.wg)
	w.heartbeat.start(&w.wg)

	w.wg.Add(1)
	go w.fetchLoop(ctx)
	return nil
}

// Stop signals the worker to stop pulling new jobs; in-flight jobs continue
// to completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != workerStateActive {
		w.mu.Unlock()
		return
	}
	w.state = workerStateStopped
	w.mu.Unlock()
	close(w.done)
	w.stalled.shutdown()
	w.health.shutdown()
	w.clean.shutdown()
	w.heartbeat.shutdown()
}

// Pause stops this worker from fetching new jobs without affecting the
// shared queue-level pause flag other workers observe; in-flight jobs
// continue to completion. Use Queue.Pause to stop every worker at once.
func (w *Worker) Pause() {
	atomic.StoreInt32(&w.localPaused, 1)
}

// Resume undoes Pause.
func (w *Worker) Resume() {
	atomic.StoreInt32(&w.localPaused, 0)
}

// IsPaused reports whether Pause has been called without a matching Resume.
func (w *Worker) IsPaused() bool {
	return atomic.LoadInt32(&w.localPaused) == 1
}

// Close stops the worker and waits for in-flight jobs to finish before
// releasing the redis connection (unless it is shared).
func (w *Worker) Close() error {
	return w.CloseWithForce(false)
}

// CloseWithForce stops the worker. If force is true, every in-flight
// handler's context is cancelled immediately instead of being allowed to run
// to completion; such jobs are abandoned and will be recovered by the
// stalled checker once their lock expires. If force is false, CloseWithForce
// behaves like Close.
func (w *Worker) CloseWithForce(force bool) error {
	w.Stop()
	if force {
		w.cancelations.CancelAll()
	}
	w.wg.Wait()
	var err error
	if w.eg != nil {
		err = w.eg.Wait()
	}
	if w.notify != nil {
		err = multierr.Append(err, w.notify.Close())
	}
	if !w.sharedConnection {
		err = multierr.Append(err, w.broker.Close())
	}
	w.mu.Lock()
	w.state = workerStateClosed
	w.mu.Unlock()
	return err
}

func (w *Worker) fetchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		if !w.sem.acquire(ctx, w.done) {
			return
		}

		if w.IsPaused() {
			w.sem.release()
			w.sleepOrDone(ctx, w.opts.DrainDelay)
			continue
		}

		if w.localLimiter != nil {
			if err := w.localLimiter.Wait(ctx); err != nil {
				w.sem.release()
				return
			}
		}

		token := uuid.NewString()
		res, err := w.broker.MoveToActive(ctx, w.name, token, w.opts.LockDuration, w.opts.Limiter.toBase())
		if err != nil {
			w.sem.release()
			w.logger.Errorf("move to active: %v", err)
			w.sleepOrDone(ctx, w.opts.DrainDelay)
			continue
		}
		switch {
		case res.Job == nil && res.LimitUntil > 0:
			w.sem.release()
			w.sleepOrDone(ctx, time.Until(time.UnixMilli(res.LimitUntil)))
			continue
		case res.Job == nil && res.DelayUntil > 0:
			w.sem.release()
			wait := time.Until(time.UnixMilli(res.DelayUntil))
			if wait > w.opts.DrainDelay {
				wait = w.opts.DrainDelay
			}
			w.sleepOrDone(ctx, wait)
			continue
		case res.Job == nil:
			w.sem.release()
			w.markDrained(ctx)
			w.waitForWork(ctx)
			continue
		}

		atomic.StoreInt32(&w.drained, 0)
		job := newJob(w.name, res.Job, base.StateActive, w.broker)
		w.wg.Add(1)
		w.eg.Go(func() error {
			defer w.wg.Done()
			defer w.sem.release()
			w.process(ctx, job, token)
			return nil
		})
	}
}

// SetConcurrency changes how many jobs this Worker processes at once. It
// takes effect starting with the next fetch cycle; in-flight jobs beyond the
// new limit are left to finish rather than canceled.
func (w *Worker) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	w.sem.setLimit(n)
	w.heartbeat.setConcurrency(n)
}

// markDrained publishes a "drained" event the first time the queue is
// found empty after having had work, so QueueEvents listeners see exactly
// one notification per empty streak rather than one per poll.
func (w *Worker) markDrained(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.drained, 0, 1) {
		return
	}
	if err := w.broker.PublishEvent(ctx, w.name, "drained", nil); err != nil {
		w.logger.Errorf("publish drained event: %v", err)
	}
}

// waitForWork blocks until the wait-notify subscription wakes (a job became
// dispatchable) or DrainDelay elapses, whichever is first; DrainDelay bounds
// it so a notification missed between MoveToActive's empty result and the
// subscriber noticing it still self-heals within one polling interval. Falls
// back to plain polling if the subscription could not be established.
func (w *Worker) waitForWork(ctx context.Context) {
	if w.notify == nil {
		w.sleepOrDone(ctx, w.opts.DrainDelay)
		return
	}
	t := time.NewTimer(w.opts.DrainDelay)
	defer t.Stop()
	select {
	case <-w.done:
	case <-ctx.Done():
	case <-t.C:
	case <-w.notify.C():
	}
}

func (w *Worker) sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.done:
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) process(ctx context.Context, job *Job, token string) {
	lockCtx, cancel := context.WithCancel(ctx)
	w.cancelations.Add(job.ID(), cancel)
	defer func() {
		w.cancelations.Delete(job.ID())
		cancel()
	}()
	lock := w.renewLockPeriodically(lockCtx, job, token)

	w.heartbeat.jobStarted(job, time.Now().Add(w.opts.LockDuration))
	defer w.heartbeat.jobFinished(job)

	resultCh := make(chan struct {
		val interface{}
		err error
	}, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- struct {
					val interface{}
					err error
				}{nil, fmt.Errorf("bullmq: handler panicked: %v\n%s", r, debug.Stack())}
			}
		}()
		val, err := w.processor(lockCtx, job)
		resultCh <- struct {
			val interface{}
			err error
		}{val, err}
	}()

	var result struct {
		val interface{}
		err error
	}
	select {
	case result = <-resultCh:
	case <-lock.Lost():
		w.logger.Warnf("lock lost for job %q, abandoning", job.ID())
		return
	}

	if result.err != nil {
		w.handleFailure(ctx, job, token, result.err)
		return
	}
	w.handleSuccess(ctx, job, token, result.val)
}

// renewLockPeriodically extends job's processing lock every LockRenewTime,
// tracking the lease locally with a base.Lock. The lease's Lost channel
// closes if a renewal attempt discovers the lock was lost (held by someone
// else, i.e. the stalled checker reclaimed it).
func (w *Worker) renewLockPeriodically(ctx context.Context, job *Job, token string) *base.Lock {
	lock := base.NewLock(time.Now().Add(w.opts.LockDuration))
	go func() {
		ticker := time.NewTicker(w.opts.LockRenewTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := w.broker.ExtendLock(ctx, w.name, job.ID(), token, w.opts.LockDuration)
				if err != nil {
					w.logger.Errorf("extend lock for job %q: %v", job.ID(), err)
					continue
				}
				if !ok {
					lock.Expire()
					return
				}
				lock.Reset(time.Now().Add(w.opts.LockDuration))
			}
		}
	}()
	return lock
}

func (w *Worker) handleSuccess(ctx context.Context, job *Job, token string, val interface{}) {
	payload, err := marshalData(val)
	if err != nil {
		w.logger.Errorf("marshal return value for job %q: %v", job.ID(), err)
	}
	if err := w.broker.MoveToCompleted(ctx, w.name, job.ID(), token, payload, job.record.Opts.RemoveOnComplete); err != nil {
		w.logger.Errorf("move to completed for job %q: %v", job.ID(), err)
	}
}

func (w *Worker) handleFailure(ctx context.Context, job *Job, token string, handlerErr error) {
	job.record.AttemptsMade++
	retry := willRetry(job)
	delay := time.Duration(0)
	if retry {
		delay = computeBackoff(job, handlerErr, w.opts.BackoffStrategies)
	}
	parentPolicy := base.ParentPolicyOf(job.record.Opts)
	remove := job.record.Opts.RemoveOnFail
	if err := w.broker.MoveToFailed(ctx, w.name, job.ID(), token, handlerErr.Error(),
		job.record.Opts.StackTraceLimit, retry, delay, remove, parentPolicy); err != nil {
		w.logger.Errorf("move to failed for job %q: %v", job.ID(), err)
	}
}
