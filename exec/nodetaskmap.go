// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"sync"

	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/stats"
)

// NodeTaskMap tracks how many partitioned splits are queued on each
// worker node across all stages of all queries. Node selectors consult
// it to spread splits away from saturated workers.
type NodeTaskMap struct {
	mu       sync.Mutex
	trackers map[*cluster.Node]map[vireo.TaskID]*SplitCountTracker
}

// NewNodeTaskMap returns an empty NodeTaskMap.
func NewNodeTaskMap() *NodeTaskMap {
	return &NodeTaskMap{trackers: make(map[*cluster.Node]map[vireo.TaskID]*SplitCountTracker)}
}

// CreatePartitionedSplitCountTracker returns the tracker through which
// the task with the given id reports its queued partitioned split
// count. Called once per task creation, before the task exists.
func (m *NodeTaskMap) CreatePartitionedSplitCountTracker(node *cluster.Node, taskID vireo.TaskID) *SplitCountTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTask := m.trackers[node]
	if byTask == nil {
		byTask = make(map[vireo.TaskID]*SplitCountTracker)
		m.trackers[node] = byTask
	}
	tracker := &SplitCountTracker{node: node, taskID: taskID}
	byTask[taskID] = tracker
	return tracker
}

// AddTask registers a created task. The registration attaches a
// listener that zeroes the task's split count once the task reaches a
// terminal state, so finished tasks stop weighing on placement.
func (m *NodeTaskMap) AddTask(node *cluster.Node, task RemoteTask) {
	m.mu.Lock()
	tracker := m.trackers[node][task.ID()]
	m.mu.Unlock()
	if tracker == nil {
		return
	}
	task.AddStateChangeListener(func(status TaskStatus) {
		if status.State.IsDone() {
			tracker.SetPartitionedSplitCount(0)
		}
	})
}

// PartitionedSplitsOnNode returns the number of partitioned splits
// currently queued on node, summed across tasks.
func (m *NodeTaskMap) PartitionedSplitsOnNode(node *cluster.Node) int {
	m.mu.Lock()
	byTask := m.trackers[node]
	trackers := make([]*SplitCountTracker, 0, len(byTask))
	for _, tracker := range byTask {
		trackers = append(trackers, tracker)
	}
	m.mu.Unlock()
	var n int64
	for _, tracker := range trackers {
		n += tracker.count.Get()
	}
	return int(n)
}

// A SplitCountTracker reports one task's queued partitioned split
// count into its node's total. Task implementations call
// SetPartitionedSplitCount as their queue drains.
type SplitCountTracker struct {
	node   *cluster.Node
	taskID vireo.TaskID
	count  stats.Counter
}

// SetPartitionedSplitCount sets the task's current queued count.
func (t *SplitCountTracker) SetPartitionedSplitCount(n int) {
	if t == nil {
		return
	}
	t.count.Set(int64(n))
}
