// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/grailbio/base/errors"
)

// BufferID identifies one output buffer of a stage: the unit a single
// downstream consumer reads from.
type BufferID int

// OutputBuffers is a versioned descriptor of where a stage's output
// rows are delivered. Descriptors are immutable; schedulers produce
// successively larger versions as downstream tasks are scheduled, and
// only a strictly greater version may replace an installed one.
type OutputBuffers struct {
	// Version orders descriptors. Competing schedulers may race
	// installs; version comparison makes installation idempotent and
	// order-insensitive.
	Version int64
	// Buffers maps buffer ids to the output partition each one
	// carries.
	Buffers map[BufferID]int
	// NoMoreBuffers indicates the buffer set is final: no descriptor
	// with additional buffers may follow.
	NoMoreBuffers bool
}

// WithBuffer returns a copy of b with the given buffer added and the
// version advanced.
func (b OutputBuffers) WithBuffer(id BufferID, partition int) OutputBuffers {
	buffers := make(map[BufferID]int, len(b.Buffers)+1)
	for k, v := range b.Buffers {
		buffers[k] = v
	}
	buffers[id] = partition
	return OutputBuffers{Version: b.Version + 1, Buffers: buffers, NoMoreBuffers: b.NoMoreBuffers}
}

// WithNoMoreBuffers returns a copy of b marked final, with the version
// advanced.
func (b OutputBuffers) WithNoMoreBuffers() OutputBuffers {
	next := OutputBuffers{Version: b.Version + 1, Buffers: b.Buffers, NoMoreBuffers: true}
	return next
}

// CheckValidTransition reports whether next may structurally replace
// b: existing buffers must be preserved with their partitions, and a
// final descriptor admits no new buffers. Version ordering is checked
// by the installer, not here.
func (b OutputBuffers) CheckValidTransition(next OutputBuffers) error {
	if b.NoMoreBuffers && len(next.Buffers) != len(b.Buffers) {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"output buffers version %d is final but version %d changes the buffer set", b.Version, next.Version))
	}
	if b.NoMoreBuffers && !next.NoMoreBuffers {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"output buffers version %d is final but version %d is not", b.Version, next.Version))
	}
	for id, partition := range b.Buffers {
		nextPartition, ok := next.Buffers[id]
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf(
				"output buffers version %d drops buffer %d", next.Version, id))
		}
		if nextPartition != partition {
			return errors.E(errors.Invalid, fmt.Sprintf(
				"output buffers version %d moves buffer %d from partition %d to %d",
				next.Version, id, partition, nextPartition))
		}
	}
	return nil
}

// bufferRef holds the stage's installed OutputBuffers behind an atomic
// pointer. Installation races with itself only, independently of task
// set mutation, so it uses compare-and-swap rather than the stage
// lock.
type bufferRef struct {
	p unsafe.Pointer // *OutputBuffers
}

func (r *bufferRef) load() *OutputBuffers {
	return (*OutputBuffers)(atomic.LoadPointer(&r.p))
}

func (r *bufferRef) compareAndSwap(old, new *OutputBuffers) bool {
	return atomic.CompareAndSwapPointer(&r.p, unsafe.Pointer(old), unsafe.Pointer(new))
}
