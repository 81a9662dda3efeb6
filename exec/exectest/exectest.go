// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exectest provides an in-memory RemoteTask implementation for
// testing stage execution and schedulers. Tasks record every operation
// they receive and let tests push status updates on the goroutine of
// their choosing, standing in for a task's callback goroutine.
package exectest

import (
	"fmt"
	"sync"

	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/exec"
)

// A Task is a fake remote task. It records splits in arrival order,
// counts completion signals per source, and keeps the full history of
// installed output buffer descriptors.
type Task struct {
	id              vireo.TaskID
	node            *cluster.Node
	fragment        *vireo.Fragment
	totalPartitions int
	tracker         *exec.SplitCountTracker
	summarized      bool

	mu              sync.Mutex
	status          exec.TaskStatus
	info            exec.TaskInfo
	finalInfoPushed bool

	started  bool
	canceled bool
	aborted  bool

	splits          map[vireo.PlanNodeID][]vireo.Split
	noMoreSplits    map[vireo.PlanNodeID]int
	noMoreLifespans map[vireo.PlanNodeID][]vireo.Lifespan
	buffers         []exec.OutputBuffers

	stateListeners []func(exec.TaskStatus)
	finalListeners []func(exec.TaskInfo)
}

func newTask(id vireo.TaskID, node *cluster.Node, fragment *vireo.Fragment, initialSplits vireo.SplitAssignment, totalPartitions int, buffers exec.OutputBuffers, tracker *exec.SplitCountTracker, summarized bool) *Task {
	t := &Task{
		id:              id,
		node:            node,
		fragment:        fragment,
		totalPartitions: totalPartitions,
		tracker:         tracker,
		summarized:      summarized,
		splits:          make(map[vireo.PlanNodeID][]vireo.Split),
		noMoreSplits:    make(map[vireo.PlanNodeID]int),
		noMoreLifespans: make(map[vireo.PlanNodeID][]vireo.Lifespan),
		buffers:         []exec.OutputBuffers{buffers},
	}
	t.status = exec.TaskStatus{
		TaskID: id,
		State:  exec.TaskPlanned,
		Self:   fmt.Sprintf("http://%s/v1/task/%s", node.Addr, id),
		Host:   node.Addr,
	}
	for source, splits := range initialSplits {
		t.splits[source] = append(t.splits[source], splits...)
	}
	return t
}

// ID implements exec.RemoteTask.
func (t *Task) ID() vireo.TaskID { return t.id }

// Node implements exec.RemoteTask.
func (t *Task) Node() *cluster.Node { return t.node }

// Start implements exec.RemoteTask.
func (t *Task) Start() {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
}

// AddSplits implements exec.RemoteTask.
func (t *Task) AddSplits(splits vireo.SplitAssignment) {
	t.mu.Lock()
	for source, ss := range splits {
		t.splits[source] = append(t.splits[source], ss...)
	}
	t.mu.Unlock()
}

// NoMoreSplits implements exec.RemoteTask.
func (t *Task) NoMoreSplits(source vireo.PlanNodeID) {
	t.mu.Lock()
	t.noMoreSplits[source]++
	t.mu.Unlock()
}

// NoMoreSplitsForLifespan implements exec.RemoteTask.
func (t *Task) NoMoreSplitsForLifespan(source vireo.PlanNodeID, lifespan vireo.Lifespan) {
	t.mu.Lock()
	t.noMoreLifespans[source] = append(t.noMoreLifespans[source], lifespan)
	t.mu.Unlock()
}

// SetOutputBuffers implements exec.RemoteTask.
func (t *Task) SetOutputBuffers(buffers exec.OutputBuffers) {
	t.mu.Lock()
	t.buffers = append(t.buffers, buffers)
	t.mu.Unlock()
}

// Cancel implements exec.RemoteTask.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
}

// Abort implements exec.RemoteTask.
func (t *Task) Abort() {
	t.mu.Lock()
	t.aborted = true
	t.mu.Unlock()
}

// TaskStatus implements exec.RemoteTask.
func (t *Task) TaskStatus() exec.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// TaskInfo implements exec.RemoteTask.
func (t *Task) TaskInfo() exec.TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalInfoPushed {
		return t.info
	}
	return exec.TaskInfo{Status: t.status}
}

// AddStateChangeListener implements exec.RemoteTask.
func (t *Task) AddStateChangeListener(l func(exec.TaskStatus)) {
	t.mu.Lock()
	t.stateListeners = append(t.stateListeners, l)
	t.mu.Unlock()
}

// AddFinalTaskInfoListener implements exec.RemoteTask.
func (t *Task) AddFinalTaskInfoListener(l func(exec.TaskInfo)) {
	t.mu.Lock()
	if t.finalInfoPushed {
		info := t.info
		t.mu.Unlock()
		l(info)
		return
	}
	t.finalListeners = append(t.finalListeners, l)
	t.mu.Unlock()
}

// Update mutates the task's status under its lock and then delivers
// the new status to state listeners on the calling goroutine, which
// plays the role of the task's callback goroutine.
func (t *Task) Update(f func(*exec.TaskStatus)) {
	t.mu.Lock()
	f(&t.status)
	status := t.status
	listeners := append([]func(exec.TaskStatus){}, t.stateListeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		l(status)
	}
}

// SetState pushes a bare state change.
func (t *Task) SetState(state exec.TaskState) {
	t.Update(func(status *exec.TaskStatus) { status.State = state })
}

// FailWith pushes a FAILED status carrying the given failure.
func (t *Task) FailWith(failure *exec.ExecutionFailureInfo) {
	t.Update(func(status *exec.TaskStatus) {
		status.State = exec.TaskFailed
		status.Failures = append(status.Failures, failure)
	})
}

// PushFinalInfo marks the task's info final, recording the given
// completed split count, and delivers it to final info listeners. Only
// the first call has any effect.
func (t *Task) PushFinalInfo(completedSplits int64) {
	t.mu.Lock()
	if t.finalInfoPushed {
		t.mu.Unlock()
		return
	}
	t.finalInfoPushed = true
	t.info = exec.TaskInfo{Status: t.status, CompletedSplits: completedSplits}
	info := t.info
	listeners := t.finalListeners
	t.finalListeners = nil
	t.mu.Unlock()
	for _, l := range listeners {
		l(info)
	}
}

// Finish pushes a FINISHED state change followed by final info.
func (t *Task) Finish() {
	t.SetState(exec.TaskFinished)
	t.PushFinalInfo(int64(t.SplitCount()))
}

// Started reports whether Start was called.
func (t *Task) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Canceled reports whether Cancel was called.
func (t *Task) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Aborted reports whether Abort was called.
func (t *Task) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Splits returns the splits received for source, in arrival order.
func (t *Task) Splits(source vireo.PlanNodeID) []vireo.Split {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]vireo.Split{}, t.splits[source]...)
}

// SplitCount returns the total number of splits received.
func (t *Task) SplitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, splits := range t.splits {
		n += len(splits)
	}
	return n
}

// NoMoreSplitsCount returns the number of completion signals received
// for source.
func (t *Task) NoMoreSplitsCount(source vireo.PlanNodeID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.noMoreSplits[source]
}

// NoMoreLifespans returns the per-lifespan completion signals received
// for source, in arrival order.
func (t *Task) NoMoreLifespans(source vireo.PlanNodeID) []vireo.Lifespan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]vireo.Lifespan{}, t.noMoreLifespans[source]...)
}

// BufferVersions returns the versions of every buffer descriptor
// installed on the task, including the one it was created with.
func (t *Task) BufferVersions() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	versions := make([]int64, len(t.buffers))
	for i, b := range t.buffers {
		versions[i] = b.Version
	}
	return versions
}

// TotalPartitions returns the partition count the task was created
// with.
func (t *Task) TotalPartitions() int { return t.totalPartitions }

// Tracker returns the split count tracker the task was created with.
func (t *Task) Tracker() *exec.SplitCountTracker { return t.tracker }

// A Factory creates fake tasks and remembers them in creation order.
type Factory struct {
	mu    sync.Mutex
	tasks []*Task
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory { return &Factory{} }

// CreateRemoteTask implements exec.RemoteTaskFactory.
func (f *Factory) CreateRemoteTask(
	taskID vireo.TaskID,
	node *cluster.Node,
	fragment *vireo.Fragment,
	initialSplits vireo.SplitAssignment,
	totalPartitions int,
	buffers exec.OutputBuffers,
	tracker *exec.SplitCountTracker,
	summarizeTaskInfo bool,
) exec.RemoteTask {
	t := newTask(taskID, node, fragment, initialSplits, totalPartitions, buffers, tracker, summarizeTaskInfo)
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()
	return t
}

// Tasks returns every task created so far, in creation order.
func (f *Factory) Tasks() []*Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Task{}, f.tasks...)
}

// Task returns the task with the given id, or nil.
func (f *Factory) Task(id vireo.TaskID) *Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.id == id {
			return t
		}
	}
	return nil
}
