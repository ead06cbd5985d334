// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package timeutil exports a Clock seam so the scheduler, worker, and lease
// logic can be exercised deterministically in tests without sleeping.
package timeutil

import "time"

// Clock is an abstraction over time.Now, allowing simulated clocks in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual wall-clock time.
type RealClock struct{}

// NewRealClock returns a Clock backed by time.Now.
func NewRealClock() RealClock { return RealClock{} }

func (RealClock) Now() time.Time { return time.Now() }

// SimulatedClock is a settable Clock for tests.
type SimulatedClock struct {
	t time.Time
}

// NewSimulatedClock returns a SimulatedClock set to t.
func NewSimulatedClock(t time.Time) *SimulatedClock {
	return &SimulatedClock{t: t}
}

func (c *SimulatedClock) Now() time.Time { return c.t }

// SetTime sets the simulated clock to t.
func (c *SimulatedClock) SetTime(t time.Time) { c.t = t }

// AdvanceTime advances the simulated clock by d.
func (c *SimulatedClock) AdvanceTime(d time.Duration) { c.t = c.t.Add(d) }
