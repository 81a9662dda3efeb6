// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/stats"
)

// A StageExecution coordinates one stage of a distributed query: it
// creates remote tasks through a RemoteTaskFactory, propagates splits
// and exchange locations to them, installs output buffer descriptors,
// and folds the tasks' asynchronous status streams into the stage's
// state machine.
//
// A StageExecution is shared between the query scheduling goroutines
// and one callback goroutine per remote task. Mutation of the task and
// source-completion indices is serialized through the stage lock;
// AllTasks and HasTasks read a lock-free append-only snapshot so that
// info reporting does not contend with scheduling. None of the
// coordinator's operations block the caller: all remote operations are
// fire-and-forget, observed later through the status stream.
type StageExecution struct {
	stateMachine *StageStateMachine
	factory      RemoteTaskFactory
	nodeTaskMap  *NodeTaskMap
	detector     cluster.FailureDetector
	loop         *eventLoop

	eventer           eventlog.Eventer
	statusTask        *status.Task
	summarizeTaskInfo bool

	// exchangeSources maps each upstream fragment to the remote source
	// node that consumes it. Fixed at construction.
	exchangeSources map[vireo.FragmentID]vireo.RemoteSourceNode

	nextTaskID int32 // atomic

	// outputBuffers is installed by compare-and-swap; it races only
	// with itself, independently of task set mutation.
	outputBuffers bufferRef

	// taskSnapshot holds an append-only []RemoteTask slice replaced
	// under mu and read without it.
	taskSnapshot atomic.Value

	mu sync.Mutex // the stage lock
	// All of the following sets grow monotonically.
	tasks                   map[*cluster.Node][]RemoteTask
	allTasks                map[vireo.TaskID]bool
	finishedTasks           map[vireo.TaskID]bool
	tasksWithFinalInfo      map[vireo.TaskID]bool
	completeSources         map[vireo.PlanNodeID]bool
	completeSourceFragments map[vireo.FragmentID]bool
	sourceTasks             map[vireo.FragmentID][]RemoteTask
	splitsScheduled         bool

	lifespanListeners listenerManager
}

// StageOption configures a StageExecution at construction.
type StageOption func(*StageExecution)

// WithEventer arranges for stage lifecycle events to be logged to e.
func WithEventer(e eventlog.Eventer) StageOption {
	return func(s *StageExecution) { s.eventer = e }
}

// WithStatus arranges for the stage to report progress on task.
func WithStatus(task *status.Task) StageOption {
	return func(s *StageExecution) { s.statusTask = task }
}

// WithSummarizedTaskInfo requests abbreviated task info payloads from
// workers.
func WithSummarizedTaskInfo() StageOption {
	return func(s *StageExecution) { s.summarizeTaskInfo = true }
}

// NewStageExecution returns a StageExecution for the given fragment.
// The detector is consulted only to attribute task failures to lost
// hosts; nodeTaskMap receives the per-task split count trackers used
// for placement fairness.
//
// Listener wiring happens after the struct is fully built so that no
// listener can observe a partially constructed stage.
func NewStageExecution(
	stageID vireo.StageID,
	fragment *vireo.Fragment,
	factory RemoteTaskFactory,
	nodeTaskMap *NodeTaskMap,
	detector cluster.FailureDetector,
	opts ...StageOption,
) *StageExecution {
	s := &StageExecution{
		factory:                 factory,
		nodeTaskMap:             nodeTaskMap,
		detector:                detector,
		loop:                    newEventLoop(),
		eventer:                 eventlog.Nop{},
		exchangeSources:         make(map[vireo.FragmentID]vireo.RemoteSourceNode),
		tasks:                   make(map[*cluster.Node][]RemoteTask),
		allTasks:                make(map[vireo.TaskID]bool),
		finishedTasks:           make(map[vireo.TaskID]bool),
		tasksWithFinalInfo:      make(map[vireo.TaskID]bool),
		completeSources:         make(map[vireo.PlanNodeID]bool),
		completeSourceFragments: make(map[vireo.FragmentID]bool),
		sourceTasks:             make(map[vireo.FragmentID][]RemoteTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, remote := range fragment.RemoteSources {
		for _, fragmentID := range remote.SourceFragments {
			s.exchangeSources[fragmentID] = remote
		}
	}
	s.stateMachine = newStageStateMachine(stageID, fragment, s.loop, s.eventer, s.statusTask)
	s.taskSnapshot.Store([]RemoteTask{})
	s.initialize()
	return s
}

// initialize wires the stage's own listeners. Separate from
// construction so that the listeners observe a complete stage.
func (s *StageExecution) initialize() {
	s.stateMachine.AddStateChangeListener(func(state StageState) {
		if state.IsDone() {
			s.checkAllTaskFinal()
		}
	})
}

// StageID returns the stage's id.
func (s *StageExecution) StageID() vireo.StageID { return s.stateMachine.StageID() }

// Fragment returns the plan fragment the stage executes.
func (s *StageExecution) Fragment() *vireo.Fragment { return s.stateMachine.Fragment() }

// State returns the stage's current state.
func (s *StageExecution) State() StageState { return s.stateMachine.State() }

// Failure returns the stage's first recorded failure cause, or nil.
func (s *StageExecution) Failure() *ExecutionFailureInfo { return s.stateMachine.Failure() }

// WaitDone returns once the stage reaches a terminal state, or with
// the context's error if ctx completes first.
func (s *StageExecution) WaitDone(ctx context.Context) (StageState, error) {
	return s.stateMachine.WaitDone(ctx)
}

// UserMemoryReservation returns the stage's current user memory
// reservation in bytes.
func (s *StageExecution) UserMemoryReservation() int64 {
	return s.stateMachine.UserMemoryReservation()
}

// TotalMemoryReservation returns the stage's current total memory
// reservation in bytes.
func (s *StageExecution) TotalMemoryReservation() int64 {
	return s.stateMachine.TotalMemoryReservation()
}

// AddStateChangeListener registers l to be invoked asynchronously for
// every stage state change.
func (s *StageExecution) AddStateChangeListener(l func(StageState)) {
	s.stateMachine.AddStateChangeListener(l)
}

// AddFinalStageInfoListener registers l to be invoked asynchronously
// exactly once with the stage's final info.
func (s *StageExecution) AddFinalStageInfoListener(l func(*StageInfo)) {
	s.stateMachine.AddFinalStageInfoListener(l)
}

// AddCompletedLifespansListener registers l to be invoked
// asynchronously with each batch of newly completed driver groups.
// Listeners must be registered before the first batch is delivered.
func (s *StageExecution) AddCompletedLifespansListener(l func([]vireo.Lifespan)) {
	s.lifespanListeners.add(l)
}

// RecordSplitFetch records the elapsed time of one split source fetch
// that began at start.
func (s *StageExecution) RecordSplitFetch(start time.Time) {
	s.stateMachine.RecordSplitFetch(start)
}

// SplitFetchTime returns the distribution of split fetch times.
func (s *StageExecution) SplitFetchTime() stats.TimeSnapshot {
	return s.stateMachine.SplitFetchTime()
}

// Info returns a snapshot of the stage and its tasks for external
// reporting.
func (s *StageExecution) Info() *StageInfo {
	tasks := s.AllTasks()
	taskInfos := make([]TaskInfo, len(tasks))
	for i, task := range tasks {
		taskInfos[i] = task.TaskInfo()
	}
	return s.stateMachine.Info(taskInfos)
}

// AllTasks returns every task created for the stage. It is lock-free:
// the returned slice is an immutable snapshot that may trail ongoing
// scheduling.
func (s *StageExecution) AllTasks() []RemoteTask {
	return s.taskSnapshot.Load().([]RemoteTask)
}

// HasTasks reports whether any task has been created. Lock-free; see
// AllTasks.
func (s *StageExecution) HasTasks() bool { return len(s.AllTasks()) > 0 }

// ScheduledNodes returns the set of nodes with at least one task.
func (s *StageExecution) ScheduledNodes() []*cluster.Node {
	s.mu.Lock()
	nodes := make([]*cluster.Node, 0, len(s.tasks))
	for node := range s.tasks {
		nodes = append(nodes, node)
	}
	s.mu.Unlock()
	return nodes
}

// BeginScheduling moves the stage from PLANNED to SCHEDULING.
func (s *StageExecution) BeginScheduling() bool {
	return s.stateMachine.TransitionToScheduling()
}

// TransitionToSchedulingSplits marks the stage as assigning splits to
// an already complete task set.
func (s *StageExecution) TransitionToSchedulingSplits() bool {
	return s.stateMachine.TransitionToSchedulingSplits()
}

// SchedulingComplete marks the stage SCHEDULED: no more tasks will be
// created and no more splits will arrive. It promotes the stage to
// RUNNING or FINISHED if its tasks already warrant it, and signals
// noMoreSplits for every partitioned source to every task. Source
// completion is atomic with task creation: a task created concurrently
// either receives the signal here or sees the complete marker at
// creation, never both or neither.
func (s *StageExecution) SchedulingComplete() {
	if !s.stateMachine.TransitionToScheduled() {
		return
	}

	s.mu.Lock()
	for _, task := range s.AllTasks() {
		if task.TaskStatus().State == TaskRunning {
			s.stateMachine.TransitionToRunning()
			break
		}
	}
	if s.allFinishedLocked() {
		s.stateMachine.TransitionToFinished()
	}
	for _, source := range s.Fragment().PartitionedSources {
		for _, task := range s.AllTasks() {
			task.NoMoreSplits(source)
		}
		s.completeSources[source] = true
	}
	s.mu.Unlock()
}

// ScheduleTask creates one task with no initial splits on node, under
// task-based scheduling where the task id is the output partition
// number. It returns (nil, nil) if the stage is already done, and an
// errors.Precondition error if splits have already been scheduled:
// task-based and split-based scheduling are mutually exclusive for a
// stage.
func (s *StageExecution) ScheduleTask(node *cluster.Node, partition, totalPartitions int) (RemoteTask, error) {
	if s.State().IsDone() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.splitsScheduled {
		return nil, errors.E(errors.Precondition, fmt.Sprintf(
			"stage %s: cannot schedule a task once splits have been scheduled", s.StageID()))
	}
	taskID := vireo.TaskID{Stage: s.StageID(), ID: partition}
	return s.scheduleTaskLocked(node, taskID, nil, totalPartitions), nil
}

// ScheduleSplits assigns splits to the task running on node, creating
// the task if none exists. Under split-based scheduling exactly one
// task exists per node; split assignments for a node accumulate on it
// in the order scheduled. noMoreSplits carries at most one source and
// lifespan whose splits are now complete for that task; passing more
// than one entry is a programming error. ScheduleSplits returns the
// tasks it created, if any, and nothing once the stage is done.
func (s *StageExecution) ScheduleSplits(node *cluster.Node, splits vireo.SplitAssignment, noMoreSplits map[vireo.PlanNodeID]vireo.Lifespan) []RemoteTask {
	if s.State().IsDone() {
		return nil
	}
	must.Truef(len(noMoreSplits) <= 1,
		"stage %s: noMoreSplits notification carries %d entries; at most one source may complete per call",
		s.StageID(), len(noMoreSplits))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.splitsScheduled = true
	for source := range splits {
		must.Truef(s.Fragment().IsPartitionedSource(source),
			"stage %s: splits scheduled for %s, which is not a partitioned source", s.StageID(), source)
	}

	var newTasks []RemoteTask
	var task RemoteTask
	if existing := s.tasks[node]; len(existing) > 0 {
		task = existing[0]
		task.AddSplits(splits)
	} else {
		taskID := vireo.TaskID{Stage: s.StageID(), ID: int(atomic.AddInt32(&s.nextTaskID, 1) - 1)}
		task = s.scheduleTaskLocked(node, taskID, splits, UnknownTotalPartitions)
		newTasks = append(newTasks, task)
	}
	for source, lifespan := range noMoreSplits {
		task.NoMoreSplitsForLifespan(source, lifespan)
	}
	return newTasks
}

// scheduleTaskLocked creates, registers, and starts one task. Called
// with the stage lock held.
func (s *StageExecution) scheduleTaskLocked(node *cluster.Node, taskID vireo.TaskID, splits vireo.SplitAssignment, totalPartitions int) RemoteTask {
	must.Truef(!s.allTasks[taskID], "stage %s: task %s already exists", s.StageID(), taskID)

	initialSplits := make(vireo.SplitAssignment)
	for source, ss := range splits {
		initialSplits[source] = append(initialSplits[source], ss...)
	}
	// Seed exchange splits from every known upstream task that has not
	// already finished.
	for fragmentID, sources := range s.sourceTasks {
		planNodeID := s.exchangeSources[fragmentID].ID
		for _, sourceTask := range sources {
			st := sourceTask.TaskStatus()
			if st.State != TaskFinished {
				initialSplits.Add(planNodeID, vireo.NewRemoteSplit(taskID, st.Self))
			}
		}
	}

	buffers := s.outputBuffers.load()
	must.Truef(buffers != nil, "stage %s: output buffers must be set before a task can be scheduled", s.StageID())

	tracker := s.nodeTaskMap.CreatePartitionedSplitCountTracker(node, taskID)
	task := s.factory.CreateRemoteTask(taskID, node, s.Fragment(), initialSplits, totalPartitions, *buffers, tracker, s.summarizeTaskInfo)

	// Sources that completed before this task existed still owe it the
	// completion signal.
	for source := range s.completeSources {
		task.NoMoreSplits(source)
	}

	s.allTasks[taskID] = true
	s.tasks[node] = append(s.tasks[node], task)
	snapshot := s.AllTasks()
	next := make([]RemoteTask, len(snapshot), len(snapshot)+1)
	copy(next, snapshot)
	s.taskSnapshot.Store(append(next, task))

	s.nodeTaskMap.AddTask(node, task)
	listener := &stageTaskListener{stage: s}
	task.AddStateChangeListener(listener.statusChanged)
	task.AddFinalTaskInfoListener(s.updateFinalTaskInfo)

	if !s.State().IsDone() {
		task.Start()
	} else {
		// Terminal state raced the creation. The task was never
		// exposed; discard it.
		task.Abort()
	}
	log.Debug.Printf("stage %s: scheduled task %s on %s", s.StageID(), taskID, node)
	return task
}

// AddExchangeLocations registers newly discovered upstream tasks of
// fragmentID against the local remote source that consumes it, and
// pushes one remote split per new upstream task to every existing
// local task. If noMoreLocations and every upstream fragment feeding
// the remote source is now complete, the source is marked complete and
// every existing task receives noMoreSplits for it exactly once.
func (s *StageExecution) AddExchangeLocations(fragmentID vireo.FragmentID, sourceTasks []RemoteTask, noMoreLocations bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteSource, ok := s.exchangeSources[fragmentID]
	if !ok {
		return errors.E(errors.NotExist, fmt.Sprintf(
			"stage %s: unknown remote source fragment %d", s.StageID(), fragmentID))
	}
	s.sourceTasks[fragmentID] = append(s.sourceTasks[fragmentID], sourceTasks...)

	for _, task := range s.AllTasks() {
		newSplits := make(vireo.SplitAssignment)
		for _, sourceTask := range sourceTasks {
			newSplits.Add(remoteSource.ID, vireo.NewRemoteSplit(task.ID(), sourceTask.TaskStatus().Self))
		}
		task.AddSplits(newSplits)
	}

	if noMoreLocations {
		s.completeSourceFragments[fragmentID] = true
		complete := true
		for _, id := range remoteSource.SourceFragments {
			if !s.completeSourceFragments[id] {
				complete = false
				break
			}
		}
		if complete && !s.completeSources[remoteSource.ID] {
			s.completeSources[remoteSource.ID] = true
			for _, task := range s.AllTasks() {
				task.NoMoreSplits(remoteSource.ID)
			}
		}
	}
	return nil
}

// SetOutputBuffers installs buffers and propagates it to every known
// task. Versions are monotonic: installing a version at or below the
// current one is a silent no-op. A structurally invalid successor is
// an error.
func (s *StageExecution) SetOutputBuffers(buffers OutputBuffers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		current := s.outputBuffers.load()
		if current != nil {
			if buffers.Version <= current.Version {
				return nil
			}
			if err := current.CheckValidTransition(buffers); err != nil {
				return err
			}
		}
		if s.outputBuffers.compareAndSwap(current, &buffers) {
			for _, task := range s.AllTasks() {
				task.SetOutputBuffers(buffers)
			}
			return nil
		}
	}
}

// OutputBuffers returns the currently installed descriptor, or nil if
// none has been set.
func (s *StageExecution) OutputBuffers() *OutputBuffers { return s.outputBuffers.load() }

// Cancel cancels the stage and every task; output produced so far
// remains readable. A no-op if the stage is already terminal.
func (s *StageExecution) Cancel() {
	s.stateMachine.TransitionToCanceled()
	for _, task := range s.AllTasks() {
		task.Cancel()
	}
}

// Abort tears the stage down and discards the output of every task. A
// no-op if the stage is already terminal.
func (s *StageExecution) Abort() {
	s.stateMachine.TransitionToAborted()
	for _, task := range s.AllTasks() {
		task.Abort()
	}
}

// Close releases the stage's listener delivery goroutine. If the
// stage is not yet terminal it is aborted first. Callers close a
// stage when its query is destroyed; listener registrations and final
// task reports arriving after Close are still honored, delivered on
// the registering or reporting goroutine.
func (s *StageExecution) Close() {
	s.Abort()
	s.loop.Stop()
}

// Fail transitions the stage to FAILED with the given cause and aborts
// every task.
func (s *StageExecution) Fail(failure *ExecutionFailureInfo) {
	s.stateMachine.TransitionToFailed(failure)
	for _, task := range s.AllTasks() {
		task.Abort()
	}
}

// updateTaskStatus folds one task status observation into stage state.
// Runs on the reporting task's callback goroutine.
func (s *StageExecution) updateTaskStatus(taskStatus TaskStatus) {
	stageState := s.State()
	if stageState.IsDone() {
		return
	}
	switch taskStatus.State {
	case TaskFailed:
		failure := &ExecutionFailureInfo{
			Code:    GenericInternalError,
			Message: "a task failed for an unknown reason",
			Host:    taskStatus.Host,
		}
		if len(taskStatus.Failures) > 0 {
			failure = rewriteTransportFailure(s.detector, taskStatus.Failures[0])
		}
		s.stateMachine.TransitionToFailed(failure)
	case TaskAborted:
		// A task aborts only after its stage has decided to abort or
		// fail; an abort under a live stage means worker state has
		// diverged from the coordinator's.
		s.stateMachine.TransitionToFailed(&ExecutionFailureInfo{
			Code:    GenericInternalError,
			Message: fmt.Sprintf("task %s is in the ABORTED state but stage is %s", taskStatus.TaskID, stageState),
			Host:    taskStatus.Host,
		})
	case TaskFinished:
		s.mu.Lock()
		s.finishedTasks[taskStatus.TaskID] = true
		s.mu.Unlock()
	}

	// The promotion checks need a fresh read: SchedulingComplete may
	// have moved the stage to SCHEDULED since the entry read, and a
	// finish recorded above under the stale value would otherwise be
	// promoted by neither path. SchedulingComplete re-checks finished
	// tasks under the stage lock after its transition, so whichever of
	// the two observes the transition also observes the finish.
	stageState = s.State()
	if stageState == StageScheduled || stageState == StageRunning {
		if taskStatus.State == TaskRunning {
			s.stateMachine.TransitionToRunning()
		}
		s.mu.Lock()
		finished := s.allFinishedLocked()
		s.mu.Unlock()
		if finished {
			s.stateMachine.TransitionToFinished()
		}
	}
}

// allFinishedLocked reports whether finishedTasks covers allTasks.
// Called with the stage lock held.
func (s *StageExecution) allFinishedLocked() bool {
	for taskID := range s.allTasks {
		if !s.finishedTasks[taskID] {
			return false
		}
	}
	return true
}

// updateFinalTaskInfo records that a task has reported final info.
func (s *StageExecution) updateFinalTaskInfo(info TaskInfo) {
	s.mu.Lock()
	s.tasksWithFinalInfo[info.Status.TaskID] = true
	s.mu.Unlock()
	s.checkAllTaskFinal()
}

// checkAllTaskFinal records the stage's final info once the stage is
// terminal and every task has reported final info. Safe to call
// repeatedly; only the first satisfied call records.
func (s *StageExecution) checkAllTaskFinal() {
	if !s.State().IsDone() {
		return
	}
	s.mu.Lock()
	for taskID := range s.allTasks {
		if !s.tasksWithFinalInfo[taskID] {
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()
	tasks := s.AllTasks()
	taskInfos := make([]TaskInfo, len(tasks))
	for i, task := range tasks {
		taskInfos[i] = task.TaskInfo()
	}
	s.stateMachine.SetAllTasksFinal(taskInfos)
}

// A stageTaskListener folds one task's status stream into the stage.
// Each task gets its own listener so that per-task cumulative figures
// can be converted to deltas before they reach the stage counters.
type stageTaskListener struct {
	stage *StageExecution

	mu                 sync.Mutex
	prevUserMemory     int64
	prevTotalMemory    int64
	prevCPU            time.Duration
	prevRows           int64
	completedLifespans map[vireo.Lifespan]bool
}

func (l *stageTaskListener) statusChanged(taskStatus TaskStatus) {
	l.updateMemoryUsage(taskStatus)
	l.updateProgress(taskStatus)
	l.updateCompletedLifespans(taskStatus)
	l.stage.updateTaskStatus(taskStatus)
}

func (l *stageTaskListener) updateMemoryUsage(taskStatus TaskStatus) {
	currentUser := taskStatus.UserMemory
	currentTotal := taskStatus.UserMemory + taskStatus.SystemMemory + taskStatus.RevocableMemory
	l.mu.Lock()
	deltaUser := currentUser - l.prevUserMemory
	deltaTotal := currentTotal - l.prevTotalMemory
	l.prevUserMemory = currentUser
	l.prevTotalMemory = currentTotal
	l.mu.Unlock()
	l.stage.stateMachine.UpdateMemoryUsage(deltaUser, deltaTotal)
}

func (l *stageTaskListener) updateProgress(taskStatus TaskStatus) {
	l.mu.Lock()
	deltaCPU := taskStatus.CPUTime - l.prevCPU
	deltaRows := taskStatus.Rows - l.prevRows
	l.prevCPU = taskStatus.CPUTime
	l.prevRows = taskStatus.Rows
	l.mu.Unlock()
	l.stage.stateMachine.UpdateProgress(deltaCPU, deltaRows)
}

func (l *stageTaskListener) updateCompletedLifespans(taskStatus TaskStatus) {
	l.mu.Lock()
	if l.completedLifespans == nil {
		l.completedLifespans = make(map[vireo.Lifespan]bool)
	}
	// Compute the newly completed set before updating the accumulated
	// set; the diff must be taken against the pre-update state.
	var newlyCompleted []vireo.Lifespan
	for _, lifespan := range taskStatus.CompletedLifespans {
		if !l.completedLifespans[lifespan] {
			newlyCompleted = append(newlyCompleted, lifespan)
		}
	}
	if len(newlyCompleted) == 0 {
		l.mu.Unlock()
		return
	}
	for _, lifespan := range newlyCompleted {
		l.completedLifespans[lifespan] = true
	}
	l.mu.Unlock()
	l.stage.lifespanListeners.invoke(newlyCompleted, l.stage.loop)
}

// A listenerManager delivers payloads to a listener set that freezes
// on first delivery: registrations after the first invoke are
// programming errors, so no listener can miss an already delivered
// batch.
type listenerManager struct {
	mu        sync.Mutex
	frozen    bool
	listeners []func([]vireo.Lifespan)
}

func (m *listenerManager) add(l func([]vireo.Lifespan)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	must.Truef(!m.frozen, "listeners have already been invoked")
	m.listeners = append(m.listeners, l)
}

func (m *listenerManager) invoke(payload []vireo.Lifespan, loop *eventLoop) {
	m.mu.Lock()
	m.frozen = true
	listeners := append([]func([]vireo.Lifespan){}, m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l := l
		loop.Submit(func() { l(payload) })
	}
}
