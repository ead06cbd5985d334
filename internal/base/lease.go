// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package base

import (
	"context"
	"sync"
	"time"

	"github.com/nagyist/bullmq/internal/timeutil"
)

// Cancelations is a collection that holds cancel functions for all in-flight
// job handlers, keyed by job id. Safe for concurrent use.
type Cancelations struct {
	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

// NewCancelations returns an empty Cancelations collection.
func NewCancelations() *Cancelations {
	return &Cancelations{cancelFuncs: make(map[string]context.CancelFunc)}
}

// Add registers a cancel func for id.
func (c *Cancelations) Add(id string, fn context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFuncs[id] = fn
}

// Delete removes the cancel func for id.
func (c *Cancelations) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancelFuncs, id)
}

// Get returns the cancel func for id, if any.
func (c *Cancelations) Get(id string) (fn context.CancelFunc, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn, ok = c.cancelFuncs[id]
	return fn, ok
}

// CancelAll invokes every registered cancel func. Used on forced shutdown to
// abandon in-flight handlers immediately instead of waiting for them to
// notice ctx cancellation on their own.
func (c *Cancelations) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.cancelFuncs {
		fn()
	}
}

// Lock is a time-bound lease over a single job id, backed by the store's
// "<jobId>:lock" key. It provides a local channel the lessee can watch to
// learn that the lease's remote-held token has expired (the lock was lost,
// most likely because the stalled checker reclaimed the job).
type Lock struct {
	once sync.Once
	ch   chan struct{}

	Clock timeutil.Clock

	mu       sync.Mutex
	expireAt time.Time
}

// NewLock returns a Lock expiring at expireAt.
func NewLock(expireAt time.Time) *Lock {
	return &Lock{
		ch:       make(chan struct{}),
		expireAt: expireAt,
		Clock:    timeutil.NewRealClock(),
	}
}

// Reset extends the lease to expire at expireAt, returning false if the
// lease had already expired.
func (l *Lock) Reset(expireAt time.Time) bool {
	if !l.IsValid() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireAt = expireAt
	return true
}

// NotifyLost signals lessees that the lease is no longer valid. Safe to call
// more than once; only the first call after expiry closes the channel.
func (l *Lock) NotifyLost() bool {
	if l.IsValid() {
		return false
	}
	l.once.Do(func() { close(l.ch) })
	return true
}

// Lost returns a channel that is closed once NotifyLost has fired.
func (l *Lock) Lost() <-chan struct{} { return l.ch }

// Expire immediately marks the lease as past its deadline and notifies
// lessees, regardless of the lease's current Deadline. Used when the holder
// learns by other means (a failed renewal) that the lease is gone.
func (l *Lock) Expire() {
	l.mu.Lock()
	l.expireAt = time.Time{}
	l.mu.Unlock()
	l.NotifyLost()
}

// Deadline returns the lease's current expiration time.
func (l *Lock) Deadline() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expireAt
}

// IsValid reports whether the lease has not yet expired.
func (l *Lock) IsValid() bool {
	now := l.Clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expireAt.After(now) || l.expireAt.Equal(now)
}
