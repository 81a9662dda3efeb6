// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package scheduler

import (
	"github.com/grailbio/base/traverse"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/exec"
)

// A FixedCountScheduler schedules a stage whose task count is fixed up
// front: one task per output partition, on a precomputed node per
// partition. Used for intermediate and output stages, whose input
// arrives over exchanges rather than from connector splits.
type FixedCountScheduler struct {
	stage           *exec.StageExecution
	partitionToNode []*cluster.Node
}

// NewFixedCountScheduler returns a scheduler that places partition i
// on partitionToNode[i].
func NewFixedCountScheduler(stage *exec.StageExecution, partitionToNode []*cluster.Node) *FixedCountScheduler {
	return &FixedCountScheduler{stage: stage, partitionToNode: partitionToNode}
}

// Schedule creates every task and marks the stage scheduled. Tasks for
// distinct partitions are created concurrently.
func (s *FixedCountScheduler) Schedule() error {
	s.stage.BeginScheduling()
	total := len(s.partitionToNode)
	err := traverse.Each(total, func(partition int) error {
		_, err := s.stage.ScheduleTask(s.partitionToNode[partition], partition, total)
		return err
	})
	if err != nil {
		return err
	}
	s.stage.SchedulingComplete()
	return nil
}
