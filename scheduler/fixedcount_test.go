// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package scheduler

import (
	"testing"

	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/exec"
	"github.com/vireodb/vireo/exec/exectest"
)

func newTestStage(t *testing.T, fragment *vireo.Fragment) (*exec.StageExecution, *exectest.Factory) {
	t.Helper()
	factory := exectest.NewFactory()
	stage := exec.NewStageExecution(
		vireo.StageID{Query: "test_query", ID: 1},
		fragment,
		factory,
		exec.NewNodeTaskMap(),
		cluster.NopDetector{},
	)
	if err := stage.SetOutputBuffers(exec.OutputBuffers{}.WithBuffer(0, 0)); err != nil {
		t.Fatal(err)
	}
	return stage, factory
}

func TestFixedCountScheduler(t *testing.T) {
	stage, factory := newTestStage(t, &vireo.Fragment{ID: 1})
	nodes := testCluster(3).AllNodes().Workers()

	s := NewFixedCountScheduler(stage, nodes)
	if err := s.Schedule(); err != nil {
		t.Fatal(err)
	}
	if got, want := stage.State(), exec.StageScheduled; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	tasks := factory.Tasks()
	if got, want := len(tasks), 3; got != want {
		t.Fatalf("got %v tasks, want %v", got, want)
	}
	// Each partition produced one task carrying the full partition
	// count.
	partitions := make(map[int]bool)
	for _, task := range tasks {
		if got, want := task.TotalPartitions(), 3; got != want {
			t.Errorf("task %s: got total partitions %v, want %v", task.ID(), got, want)
		}
		partitions[task.ID().ID] = true
	}
	for i := 0; i < 3; i++ {
		if !partitions[i] {
			t.Errorf("missing partition %d", i)
		}
	}
}

func TestFixedCountSchedulerDoneStage(t *testing.T) {
	stage, factory := newTestStage(t, &vireo.Fragment{ID: 1})
	stage.Cancel()
	s := NewFixedCountScheduler(stage, testCluster(2).AllNodes().Workers())
	if err := s.Schedule(); err != nil {
		t.Fatal(err)
	}
	if got := len(factory.Tasks()); got != 0 {
		t.Errorf("got %v tasks on a canceled stage, want 0", got)
	}
}
