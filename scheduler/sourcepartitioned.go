// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"time"

	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/exec"
)

// A SplitSource enumerates the connector splits of one partitioned
// source plan node.
type SplitSource interface {
	// NextBatch returns up to max splits, reporting whether more
	// remain after them. NextBatch may block on connector I/O and
	// honors ctx cancellation.
	NextBatch(ctx context.Context, max int) (splits []vireo.Split, more bool, err error)
}

// A SourcePartitionedScheduler drives split-based scheduling for one
// stage: it drains a SplitSource in batches, assigns each batch across
// the workers, and signals completion when the source is exhausted.
// Tasks are created lazily, one per node, as splits land on nodes.
type SourcePartitionedScheduler struct {
	stage    *exec.StageExecution
	source   vireo.PlanNodeID
	splits   SplitSource
	selector *UniformNodeSelector
	config   Config
}

// NewSourcePartitionedScheduler returns a scheduler that feeds the
// given partitioned source plan node of stage from splits.
func NewSourcePartitionedScheduler(stage *exec.StageExecution, source vireo.PlanNodeID, splits SplitSource, selector *UniformNodeSelector, config Config) *SourcePartitionedScheduler {
	return &SourcePartitionedScheduler{
		stage:    stage,
		source:   source,
		splits:   splits,
		selector: selector,
		config:   config.withDefaults(),
	}
}

// Schedule drains the split source and marks the stage scheduled. A
// split source failure fails the stage.
func (s *SourcePartitionedScheduler) Schedule(ctx context.Context) error {
	s.stage.BeginScheduling()
	for {
		if s.stage.State().IsDone() {
			return nil
		}
		start := time.Now()
		batch, more, err := s.splits.NextBatch(ctx, s.config.SplitBatchSize)
		s.stage.RecordSplitFetch(start)
		if err != nil {
			s.stage.Fail(&exec.ExecutionFailureInfo{
				Code:    exec.GenericInternalError,
				Message: "split source failed",
				Err:     err,
			})
			return err
		}
		if len(batch) > 0 {
			assignments, err := s.selector.AssignSplits(batch)
			if err != nil {
				s.stage.Fail(&exec.ExecutionFailureInfo{
					Code:    exec.InsufficientResources,
					Message: "split assignment failed",
					Err:     err,
				})
				return err
			}
			for node, nodeSplits := range assignments {
				s.stage.ScheduleSplits(node, vireo.SplitAssignment{s.source: nodeSplits}, nil)
			}
		}
		if s.stage.HasTasks() {
			s.stage.TransitionToSchedulingSplits()
		}
		if !more {
			break
		}
	}
	s.stage.SchedulingComplete()
	return nil
}
