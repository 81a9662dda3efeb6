// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements stage execution for the Vireo distributed
// SQL engine: the per-stage state machine, the coordinator that turns
// one plan fragment into a set of remote tasks, and the bookkeeping
// that folds asynchronous task status updates into authoritative stage
// state.
package exec

import (
	"time"

	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
)

// TaskState represents the runtime state of a remote task. TaskState
// values are defined so that their magnitudes correspond with task
// progression; all values greater than or equal to TaskFinished are
// terminal.
type TaskState int

const (
	// TaskPlanned is the initial state of a task: created but not yet
	// started on its worker.
	TaskPlanned TaskState = iota
	// TaskRunning is the state of a task whose pipeline is executing
	// on its worker.
	TaskRunning

	// TaskFinished indicates that the task completed successfully and
	// its output has been fully acknowledged.
	TaskFinished
	// TaskCanceled indicates the task was canceled: its output so far
	// is complete but no more will be produced.
	TaskCanceled
	// TaskAborted indicates the task was torn down and its output
	// discarded. A task aborts only when its stage has already decided
	// to abort or fail.
	TaskAborted
	// TaskFailed indicates the task experienced a failure while
	// running.
	TaskFailed

	maxTaskState
)

var taskStates = [...]string{
	TaskPlanned:  "PLANNED",
	TaskRunning:  "RUNNING",
	TaskFinished: "FINISHED",
	TaskCanceled: "CANCELED",
	TaskAborted:  "ABORTED",
	TaskFailed:   "FAILED",
}

// String returns the task state as an upper-case string.
func (s TaskState) String() string { return taskStates[s] }

// IsDone reports whether the state is terminal.
func (s TaskState) IsDone() bool { return s >= TaskFinished }

// TaskStatus is one observation of a remote task, pushed by the task's
// own callback goroutine. Statuses for a single task are delivered in
// non-decreasing state order; no ordering holds across tasks.
//
// Memory, CPU, and row figures are cumulative for the life of the
// task. Stage accounting converts them to deltas before folding; see
// stageTaskListener.
type TaskStatus struct {
	TaskID vireo.TaskID
	State  TaskState
	// Self is the location of the task on its worker, used to build
	// remote splits for downstream stages.
	Self string
	// Host is the worker address the status was reported from, used
	// to attribute failures to lost hosts.
	Host string
	// Failures holds the task's failure causes when State is
	// TaskFailed.
	Failures []*ExecutionFailureInfo

	UserMemory      int64
	SystemMemory    int64
	RevocableMemory int64
	CPUTime         time.Duration
	Rows            int64

	// CompletedLifespans is the cumulative set of driver groups the
	// task has fully processed.
	CompletedLifespans []vireo.Lifespan
}

// TaskInfo is the detailed information reported by a task. A task
// reports final info exactly once, after it has reached a terminal
// state and its stats are complete.
type TaskInfo struct {
	Status TaskStatus
	// CompletedSplits is the number of splits the task fully
	// processed.
	CompletedSplits int64
}

// A RemoteTask is a proxy to a task running on a worker node. All
// mutating operations are asynchronous fire-and-forget: their effects
// are observed later through the status stream. Implementations must
// be safe for concurrent use and must be cheap to call from within the
// stage lock.
type RemoteTask interface {
	// ID returns the task's id.
	ID() vireo.TaskID
	// Node returns the worker node hosting the task.
	Node() *cluster.Node

	// Start begins execution on the worker.
	Start()
	// AddSplits assigns additional splits to the task's plan nodes.
	AddSplits(splits vireo.SplitAssignment)
	// NoMoreSplits signals that no further splits will arrive for the
	// given source plan node.
	NoMoreSplits(source vireo.PlanNodeID)
	// NoMoreSplitsForLifespan signals split completion for a single
	// driver group of the given source plan node.
	NoMoreSplitsForLifespan(source vireo.PlanNodeID, lifespan vireo.Lifespan)
	// SetOutputBuffers installs a new output buffer descriptor.
	SetOutputBuffers(buffers OutputBuffers)
	// Cancel requests cancellation: output produced so far remains
	// readable.
	Cancel()
	// Abort tears the task down and discards its output.
	Abort()

	// TaskStatus returns the most recently observed status.
	TaskStatus() TaskStatus
	// TaskInfo returns the most recently observed detailed info.
	TaskInfo() TaskInfo

	// AddStateChangeListener registers l to be invoked, on the task's
	// callback goroutine, for every status update.
	AddStateChangeListener(l func(TaskStatus))
	// AddFinalTaskInfoListener registers l to be invoked exactly once
	// with the task's final info.
	AddFinalTaskInfoListener(l func(TaskInfo))
}

// A RemoteTaskFactory creates remote tasks. It is the sole way stage
// execution creates tasks and must be safe to call from within the
// stage lock.
type RemoteTaskFactory interface {
	// CreateRemoteTask creates, but does not start, a task for the
	// given fragment on node. totalPartitions is the number of
	// partitions in the stage under task-based scheduling, or
	// UnknownTotalPartitions under split-based scheduling.
	// summarizeTaskInfo requests abbreviated info payloads from the
	// worker.
	CreateRemoteTask(
		taskID vireo.TaskID,
		node *cluster.Node,
		fragment *vireo.Fragment,
		initialSplits vireo.SplitAssignment,
		totalPartitions int,
		buffers OutputBuffers,
		tracker *SplitCountTracker,
		summarizeTaskInfo bool,
	) RemoteTask
}

// UnknownTotalPartitions is passed to RemoteTaskFactory when the
// stage's partition count is not fixed up front.
const UnknownTotalPartitions = -1
