// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
)

// An eventLoop runs submitted functions on a single dedicated
// goroutine in submission order. Stage listeners are delivered through
// an event loop so that they never run on a task's status-callback
// goroutine and never synchronously from within a constructor.
type eventLoop struct {
	mu      sync.Mutex
	cond    *ctxsync.Cond
	pending []func()
	stopped bool
}

// newEventLoop returns a started event loop.
func newEventLoop() *eventLoop {
	e := new(eventLoop)
	e.cond = ctxsync.NewCond(&e.mu)
	go e.run()
	return e
}

// Submit queues f for execution. Functions submitted from a single
// goroutine run in submission order. Submit never blocks on the
// queued work. After Stop, f runs on the caller's goroutine instead,
// unordered with respect to work the loop is still draining.
func (e *eventLoop) Submit(f func()) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		f()
		return
	}
	e.pending = append(e.pending, f)
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Stop drains queued work and then terminates the loop goroutine.
// Idempotent.
func (e *eventLoop) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *eventLoop) run() {
	for {
		e.mu.Lock()
		for len(e.pending) == 0 {
			if e.stopped {
				e.mu.Unlock()
				return
			}
			// Done unlocks e.mu; reacquire after the broadcast.
			<-e.cond.Done()
			e.mu.Lock()
		}
		fns := e.pending
		e.pending = nil
		e.mu.Unlock()
		for _, f := range fns {
			f()
		}
	}
}
