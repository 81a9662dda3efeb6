// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"sync"
	"time"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/sync/ctxsync"
	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/stats"
)

// StageState represents the lifecycle state of a stage. Values are
// defined so that their magnitudes correspond with stage progression;
// all values greater than or equal to StageFinished are terminal and
// sticky.
type StageState int

const (
	// StagePlanned is the initial state: the stage exists but no
	// scheduling has begun.
	StagePlanned StageState = iota
	// StageScheduling indicates the scheduler is placing tasks or
	// fetching splits for the stage.
	StageScheduling
	// StageSchedulingSplits indicates the scheduler has created all
	// tasks and is now assigning splits to them.
	StageSchedulingSplits
	// StageScheduled indicates no more tasks will be created and no
	// more splits will be assigned.
	StageScheduled
	// StageRunning indicates at least one task has reported that it
	// is executing.
	StageRunning

	// StageFinished indicates every task finished successfully.
	StageFinished
	// StageCanceled indicates the stage was canceled by its query.
	StageCanceled
	// StageAborted indicates the stage was torn down and its output
	// discarded.
	StageAborted
	// StageFailed indicates a task failure or internal error ended
	// the stage.
	StageFailed

	maxStageState
)

var stageStates = [...]string{
	StagePlanned:          "PLANNED",
	StageScheduling:       "SCHEDULING",
	StageSchedulingSplits: "SCHEDULING_SPLITS",
	StageScheduled:        "SCHEDULED",
	StageRunning:          "RUNNING",
	StageFinished:         "FINISHED",
	StageCanceled:         "CANCELED",
	StageAborted:          "ABORTED",
	StageFailed:           "FAILED",
}

// String returns the stage state as an upper-case string.
func (s StageState) String() string { return stageStates[s] }

// IsDone reports whether the state is terminal.
func (s StageState) IsDone() bool { return s >= StageFinished }

// StageInfo is a point-in-time snapshot of a stage for external
// reporting.
type StageInfo struct {
	StageID     vireo.StageID
	State       StageState
	UserMemory  int64
	TotalMemory int64
	CPUTime     time.Duration
	Rows        int64
	// Failure is the stage's first recorded failure cause, nil unless
	// State is StageFailed.
	Failure *ExecutionFailureInfo
	Tasks   []TaskInfo
}

// A StageStateMachine holds the authoritative state for one stage and
// the statistics accumulated from its tasks. All transition methods
// are idempotent: re-requesting a satisfied transition returns false,
// and terminal states are sticky.
//
// Statistics are accumulated as deltas. Task status pushes carry
// cumulative figures; callers must report the difference from their
// own previously seen value, or repeated pushes would double count.
type StageStateMachine struct {
	stageID  vireo.StageID
	fragment *vireo.Fragment
	loop     *eventLoop
	eventer  eventlog.Eventer
	status   *status.Task

	userMemory  stats.Counter
	totalMemory stats.Counter
	cpu         stats.Counter // nanoseconds
	rows        stats.Counter
	splitFetch  stats.TimeDistribution

	mu             sync.Mutex
	cond           *ctxsync.Cond
	state          StageState
	failure        *ExecutionFailureInfo
	stateListeners []func(StageState)
	finalListeners []func(*StageInfo)
	finalInfo      *StageInfo
}

func newStageStateMachine(stageID vireo.StageID, fragment *vireo.Fragment, loop *eventLoop, eventer eventlog.Eventer, statusTask *status.Task) *StageStateMachine {
	m := &StageStateMachine{
		stageID:  stageID,
		fragment: fragment,
		loop:     loop,
		eventer:  eventer,
		status:   statusTask,
	}
	m.cond = ctxsync.NewCond(&m.mu)
	return m
}

// StageID returns the id of the stage this machine governs.
func (m *StageStateMachine) StageID() vireo.StageID { return m.stageID }

// Fragment returns the plan fragment the stage executes.
func (m *StageStateMachine) Fragment() *vireo.Fragment { return m.fragment }

// State returns the current stage state.
func (m *StageStateMachine) State() StageState {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return state
}

// Failure returns the stage's first recorded failure cause, or nil.
func (m *StageStateMachine) Failure() *ExecutionFailureInfo {
	m.mu.Lock()
	failure := m.failure
	m.mu.Unlock()
	return failure
}

// TransitionToScheduling moves PLANNED to SCHEDULING.
func (m *StageStateMachine) TransitionToScheduling() bool {
	return m.transition(StageScheduling, nil, func(cur StageState) bool {
		return cur == StagePlanned
	})
}

// TransitionToSchedulingSplits moves PLANNED or SCHEDULING to
// SCHEDULING_SPLITS.
func (m *StageStateMachine) TransitionToSchedulingSplits() bool {
	return m.transition(StageSchedulingSplits, nil, func(cur StageState) bool {
		return cur == StagePlanned || cur == StageScheduling
	})
}

// TransitionToScheduled moves any pre-scheduled state to SCHEDULED.
func (m *StageStateMachine) TransitionToScheduled() bool {
	return m.transition(StageScheduled, nil, func(cur StageState) bool {
		return cur < StageScheduled
	})
}

// TransitionToRunning moves any earlier non-terminal state to RUNNING.
func (m *StageStateMachine) TransitionToRunning() bool {
	return m.transition(StageRunning, nil, func(cur StageState) bool {
		return cur < StageRunning
	})
}

// TransitionToFinished moves any non-terminal state to FINISHED.
func (m *StageStateMachine) TransitionToFinished() bool {
	return m.transition(StageFinished, nil, nil)
}

// TransitionToCanceled moves any non-terminal state to CANCELED.
func (m *StageStateMachine) TransitionToCanceled() bool {
	return m.transition(StageCanceled, nil, nil)
}

// TransitionToAborted moves any non-terminal state to ABORTED.
func (m *StageStateMachine) TransitionToAborted() bool {
	return m.transition(StageAborted, nil, nil)
}

// TransitionToFailed moves any non-terminal state to FAILED, recording
// failure as the stage's cause. The first recorded failure wins;
// failures reported after the stage is terminal are discarded.
func (m *StageStateMachine) TransitionToFailed(failure *ExecutionFailureInfo) bool {
	return m.transition(StageFailed, failure, nil)
}

// transition installs state to if the current state is non-terminal,
// differs from to, and satisfies allowed (nil means any non-terminal
// state). Registered state listeners are notified asynchronously on
// the machine's event loop.
func (m *StageStateMachine) transition(to StageState, failure *ExecutionFailureInfo, allowed func(StageState) bool) bool {
	m.mu.Lock()
	cur := m.state
	if cur.IsDone() || cur == to || (allowed != nil && !allowed(cur)) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	if failure != nil && m.failure == nil {
		m.failure = failure
	}
	listeners := append([]func(StageState){}, m.stateListeners...)
	m.cond.Broadcast()
	m.mu.Unlock()

	log.Debug.Printf("stage %s: %s -> %s", m.stageID, cur, to)
	m.printStatus(to)
	if to.IsDone() {
		m.eventer.Event("vireo:stageTerminal",
			"stage", m.stageID.String(),
			"state", to.String(),
			"cpu", m.CPUTime().String(),
			"rows", m.Rows())
	}
	for _, l := range listeners {
		l := l
		m.loop.Submit(func() { l(to) })
	}
	return true
}

func (m *StageStateMachine) printStatus(state StageState) {
	if m.status == nil {
		return
	}
	m.status.Printf("%s user %s total %s rows %d",
		state, data.Size(m.userMemory.Get()), data.Size(m.totalMemory.Get()), m.rows.Get())
	if state.IsDone() {
		m.status.Done()
	}
}

// AddStateChangeListener registers l to be invoked asynchronously on
// the machine's event loop for every subsequent state change.
func (m *StageStateMachine) AddStateChangeListener(l func(StageState)) {
	m.mu.Lock()
	m.stateListeners = append(m.stateListeners, l)
	m.mu.Unlock()
}

// AddFinalStageInfoListener registers l to be invoked asynchronously
// exactly once, with the stage's final info, after every task has
// reported final information. If the final info is already available,
// l is scheduled immediately.
func (m *StageStateMachine) AddFinalStageInfoListener(l func(*StageInfo)) {
	m.mu.Lock()
	final := m.finalInfo
	if final == nil {
		m.finalListeners = append(m.finalListeners, l)
	}
	m.mu.Unlock()
	if final != nil {
		m.loop.Submit(func() { l(final) })
	}
}

// SetAllTasksFinal records the stage's final info from the given task
// infos and fires final-info listeners. Only the first call has any
// effect.
func (m *StageStateMachine) SetAllTasksFinal(taskInfos []TaskInfo) {
	m.mu.Lock()
	if m.finalInfo != nil {
		m.mu.Unlock()
		return
	}
	info := m.infoLocked(taskInfos)
	m.finalInfo = info
	listeners := m.finalListeners
	m.finalListeners = nil
	m.mu.Unlock()
	for _, l := range listeners {
		l := l
		m.loop.Submit(func() { l(info) })
	}
}

// Info returns a snapshot of the stage built from the given task
// infos, or the recorded final info once it exists.
func (m *StageStateMachine) Info(taskInfos []TaskInfo) *StageInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalInfo != nil {
		return m.finalInfo
	}
	return m.infoLocked(taskInfos)
}

func (m *StageStateMachine) infoLocked(taskInfos []TaskInfo) *StageInfo {
	return &StageInfo{
		StageID:     m.stageID,
		State:       m.state,
		UserMemory:  m.userMemory.Get(),
		TotalMemory: m.totalMemory.Get(),
		CPUTime:     m.CPUTime(),
		Rows:        m.rows.Get(),
		Failure:     m.failure,
		Tasks:       taskInfos,
	}
}

// UpdateMemoryUsage folds one task's memory deltas into the stage
// totals.
func (m *StageStateMachine) UpdateMemoryUsage(deltaUser, deltaTotal int64) {
	m.userMemory.Add(deltaUser)
	m.totalMemory.Add(deltaTotal)
}

// UpdateProgress folds one task's CPU and row deltas into the stage
// totals.
func (m *StageStateMachine) UpdateProgress(deltaCPU time.Duration, deltaRows int64) {
	m.cpu.Add(int64(deltaCPU))
	m.rows.Add(deltaRows)
}

// UserMemoryReservation returns the stage's current user memory
// reservation in bytes.
func (m *StageStateMachine) UserMemoryReservation() int64 { return m.userMemory.Get() }

// TotalMemoryReservation returns the stage's current total memory
// reservation in bytes.
func (m *StageStateMachine) TotalMemoryReservation() int64 { return m.totalMemory.Get() }

// CPUTime returns the total CPU time reported by the stage's tasks.
func (m *StageStateMachine) CPUTime() time.Duration { return time.Duration(m.cpu.Get()) }

// Rows returns the total rows processed by the stage's tasks.
func (m *StageStateMachine) Rows() int64 { return m.rows.Get() }

// RecordSplitFetch records the elapsed time of one split source fetch
// that began at start.
func (m *StageStateMachine) RecordSplitFetch(start time.Time) {
	m.splitFetch.Add(time.Since(start))
}

// SplitFetchTime returns the distribution of split fetch times.
func (m *StageStateMachine) SplitFetchTime() stats.TimeSnapshot {
	return m.splitFetch.Snapshot()
}

// WaitDone returns once the stage reaches a terminal state, or with
// the context's error if ctx completes first. It returns the state
// observed last.
func (m *StageStateMachine) WaitDone(ctx context.Context) (StageState, error) {
	m.mu.Lock()
	for !m.state.IsDone() {
		donec := m.cond.Done() // Done unlocks m.mu
		select {
		case <-donec:
		case <-ctx.Done():
			m.mu.Lock()
			state := m.state
			m.mu.Unlock()
			return state, ctx.Err()
		}
		m.mu.Lock()
	}
	state := m.state
	m.mu.Unlock()
	return state, nil
}
