// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
)

func init() {
	close(satisfiedc)
}

// satisfiedc is closed in init; receiving from it yields a nil error
// immediately. It is returned when the gate is already satisfied.
var satisfiedc = make(chan error)

// A SizeGate blocks query admission until a minimum number of workers
// is available or a per-wait timeout elapses. The gate tracks the
// eligible worker count through node manager notifications.
type SizeGate struct {
	manager            NodeManager
	includeCoordinator bool
	minWorkers         int
	maxWait            time.Duration

	mu           sync.Mutex
	currentCount int
	waiters      []*sizeWaiter
	cancel       func()
}

type sizeWaiter struct {
	c     chan error
	timer *time.Timer
	done  bool
}

// NewSizeGate returns a gate requiring minWorkers eligible workers.
// Unless includeCoordinator is set, coordinator nodes do not count
// toward the minimum. Each wait fails after maxWait if the minimum has
// not been met by then. The gate is inert until Start is called.
func NewSizeGate(manager NodeManager, minWorkers int, maxWait time.Duration, includeCoordinator bool) *SizeGate {
	if minWorkers < 0 {
		panic("cluster.NewSizeGate: minWorkers < 0")
	}
	return &SizeGate{
		manager:            manager,
		includeCoordinator: includeCoordinator,
		minWorkers:         minWorkers,
		maxWait:            maxWait,
	}
}

// Start registers the gate with its node manager and initializes the
// worker count from current membership.
func (g *SizeGate) Start() {
	g.cancel = g.manager.AddNodeChangeListener(g.updateAllNodes)
}

// Stop deregisters the gate from its node manager. Outstanding waits
// are left to their timeouts.
func (g *SizeGate) Stop() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

// WaitForMinimumWorkers returns a channel that yields nil once the
// eligible worker count meets the gate's minimum, or a single error if
// the gate's max wait elapses first. If the minimum is already met,
// the returned channel yields nil immediately.
func (g *SizeGate) WaitForMinimumWorkers() <-chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentCount >= g.minWorkers {
		return satisfiedc
	}
	w := &sizeWaiter{c: make(chan error, 1)}
	w.timer = time.AfterFunc(g.maxWait, func() { g.expire(w) })
	g.waiters = append(g.waiters, w)
	return w.c
}

// expire fails the waiter with an insufficient-resources error. It is
// a no-op if the waiter was already satisfied.
func (g *SizeGate) expire(w *sizeWaiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	for i, other := range g.waiters {
		if other == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			break
		}
	}
	w.c <- errors.E(errors.Unavailable, fmt.Sprintf(
		"insufficient active worker nodes: waited %s for at least %d workers, but only %d workers are active",
		g.maxWait, g.minWorkers, g.currentCount))
}

func (g *SizeGate) updateAllNodes(all AllNodes) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.includeCoordinator {
		g.currentCount = len(all.Active)
	} else {
		g.currentCount = len(all.Workers())
	}
	if g.currentCount < g.minWorkers {
		return
	}
	waiters := g.waiters
	g.waiters = nil
	for _, w := range waiters {
		w.done = true
		w.timer.Stop()
		w.c <- nil
	}
}
