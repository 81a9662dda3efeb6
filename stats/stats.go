// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides the small set of statistics primitives used
// by stage execution: atomic counters for resource accounting and a
// time distribution for scheduler bookkeeping.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// A Counter is an integer counter. Counters can be atomically
// incremented, set, and read, and are safe for concurrent use. The
// zero Counter is ready to use.
type Counter struct {
	val int64
}

// Add increments c by delta, which may be negative.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.val, delta)
}

// Set sets the counter's value to val.
func (c *Counter) Set(val int64) {
	atomic.StoreInt64(&c.val, val)
}

// Get returns the current value of the counter.
func (c *Counter) Get() int64 {
	return atomic.LoadInt64(&c.val)
}

// A TimeDistribution accumulates durations, tracking count, total,
// minimum, and maximum. It is safe for concurrent use.
type TimeDistribution struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// Add records one observation.
func (d *TimeDistribution) Add(v time.Duration) {
	d.mu.Lock()
	if d.count == 0 || v < d.min {
		d.min = v
	}
	if v > d.max {
		d.max = v
	}
	d.count++
	d.total += v
	d.mu.Unlock()
}

// TimeSnapshot is a point-in-time view of a TimeDistribution.
type TimeSnapshot struct {
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Mean returns the mean observed duration, or zero if there are no
// observations.
func (s TimeSnapshot) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// String returns an abbreviated rendering of the snapshot.
func (s TimeSnapshot) String() string {
	return fmt.Sprintf("n=%d total=%s min=%s max=%s", s.Count, s.Total, s.Min, s.Max)
}

// Snapshot returns a consistent snapshot of the distribution.
func (d *TimeDistribution) Snapshot() TimeSnapshot {
	d.mu.Lock()
	snap := TimeSnapshot{Count: d.count, Total: d.total, Min: d.min, Max: d.max}
	d.mu.Unlock()
	return snap
}
