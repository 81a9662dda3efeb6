// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/exec"
	"github.com/vireodb/vireo/exec/exectest"
)

const scanNode = vireo.PlanNodeID("scan")

func testNodes(n int) []*cluster.Node {
	nodes := make([]*cluster.Node, n)
	for i := range nodes {
		nodes[i] = &cluster.Node{
			ID:   fmt.Sprintf("node%d", i),
			Addr: fmt.Sprintf("10.0.0.%d:8080", i+1),
		}
	}
	return nodes
}

func scanFragment() *vireo.Fragment {
	return &vireo.Fragment{ID: 1, PartitionedSources: []vireo.PlanNodeID{scanNode}}
}

// newStage returns a stage with initial output buffers installed,
// ready for scheduling.
func newStage(t *testing.T, fragment *vireo.Fragment, detector cluster.FailureDetector) (*exec.StageExecution, *exectest.Factory) {
	t.Helper()
	factory := exectest.NewFactory()
	stage := exec.NewStageExecution(
		vireo.StageID{Query: "test_query", ID: 1},
		fragment,
		factory,
		exec.NewNodeTaskMap(),
		detector,
	)
	if err := stage.SetOutputBuffers(exec.OutputBuffers{}.WithBuffer(0, 0)); err != nil {
		t.Fatal(err)
	}
	return stage, factory
}

func payloadSplit(payload interface{}) vireo.Split {
	return vireo.Split{Lifespan: vireo.TaskWide, Payload: payload}
}

func TestScheduleSplitsOneTaskPerNode(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(3)

	const perNode = 20
	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perNode; i++ {
				splits := vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(i)}}
				stage.ScheduleSplits(node, splits, nil)
			}
		}()
	}
	wg.Wait()

	tasks := factory.Tasks()
	if got, want := len(tasks), len(nodes); got != want {
		t.Fatalf("got %v tasks, want %v", got, want)
	}
	seen := make(map[int]bool)
	for _, task := range tasks {
		if got, want := len(task.Splits(scanNode)), perNode; got != want {
			t.Errorf("task %s: got %v splits, want %v", task.ID(), got, want)
		}
		if !task.Started() {
			t.Errorf("task %s not started", task.ID())
		}
		if seen[task.ID().ID] {
			t.Errorf("task id %v reused", task.ID())
		}
		seen[task.ID().ID] = true
	}
	// Ids are assigned sequentially from zero.
	for i := 0; i < len(nodes); i++ {
		if !seen[i] {
			t.Errorf("missing task id %d", i)
		}
	}
}

func TestScheduleSplitsOrderPerNode(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	node := testNodes(1)[0]
	for i := 0; i < 10; i++ {
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(i)}}, nil)
	}
	splits := factory.Tasks()[0].Splits(scanNode)
	for i, split := range splits {
		if got, want := split.Payload.(int), i; got != want {
			t.Fatalf("split %d: got payload %v, want %v", i, got, want)
		}
	}
}

func TestSchedulingModesExclusive(t *testing.T) {
	stage, _ := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	node := testNodes(1)[0]
	stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(0)}}, nil)
	_, err := stage.ScheduleTask(node, 1, 2)
	if err == nil {
		t.Fatal("expected error scheduling a task after splits")
	}
	if !errors.Is(errors.Precondition, err) {
		t.Errorf("got %v, want Precondition", err)
	}
}

func TestScheduleTaskOnDoneStage(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.Cancel()
	task, err := stage.ScheduleTask(testNodes(1)[0], 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Error("expected no task on a done stage")
	}
	if got := stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil); got != nil {
		t.Error("expected no new tasks on a done stage")
	}
	if len(factory.Tasks()) != 0 {
		t.Error("no tasks should have been created")
	}
}

func TestSchedulingCompleteSignalsSources(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(2)
	for _, node := range nodes {
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(0)}}, nil)
	}
	stage.SchedulingComplete()
	if got, want := stage.State(), exec.StageScheduled; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, task := range factory.Tasks() {
		if got, want := task.NoMoreSplitsCount(scanNode), 1; got != want {
			t.Errorf("task %s: got %v noMoreSplits, want %v", task.ID(), got, want)
		}
	}
	// SchedulingComplete is idempotent.
	stage.SchedulingComplete()
	for _, task := range factory.Tasks() {
		if got, want := task.NoMoreSplitsCount(scanNode), 1; got != want {
			t.Errorf("task %s: got %v noMoreSplits after repeat, want %v", task.ID(), got, want)
		}
	}
}

func TestLateTaskOwedCompletionSignal(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(2)
	stage.ScheduleSplits(nodes[0], vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(0)}}, nil)
	stage.SchedulingComplete()

	// A task created after the source completed still receives the
	// completion signal, exactly once.
	stage.ScheduleSplits(nodes[1], vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(1)}}, nil)
	late := factory.Task(vireo.TaskID{Stage: stage.StageID(), ID: 1})
	if late == nil {
		t.Fatal("late task not created")
	}
	if got, want := late.NoMoreSplitsCount(scanNode), 1; got != want {
		t.Errorf("got %v noMoreSplits, want %v", got, want)
	}
}

func TestNoMoreSplitsLifespan(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	node := testNodes(1)[0]
	stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: []vireo.Split{payloadSplit(0)}},
		map[vireo.PlanNodeID]vireo.Lifespan{scanNode: vireo.Lifespan(3)})
	got := factory.Tasks()[0].NoMoreLifespans(scanNode)
	if len(got) != 1 || got[0] != vireo.Lifespan(3) {
		t.Errorf("got lifespans %v, want [Group(3)]", got)
	}
}

func TestNoMoreSplitsMultiEntryPanics(t *testing.T) {
	stage, _ := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for multi-entry notification")
		}
	}()
	stage.ScheduleSplits(testNodes(1)[0], nil, map[vireo.PlanNodeID]vireo.Lifespan{
		"a": vireo.TaskWide,
		"b": vireo.TaskWide,
	})
}

func exchangeFragment() *vireo.Fragment {
	return &vireo.Fragment{
		ID: 1,
		RemoteSources: []vireo.RemoteSourceNode{{
			ID:              "exchange",
			SourceFragments: []vireo.FragmentID{2, 3},
		}},
	}
}

// upstreamTask builds a standalone fake task to use as an exchange
// location source.
func upstreamTask(id int) *exectest.Task {
	factory := exectest.NewFactory()
	taskID := vireo.TaskID{Stage: vireo.StageID{Query: "test_query", ID: 2}, ID: id}
	node := &cluster.Node{ID: fmt.Sprintf("up%d", id), Addr: fmt.Sprintf("10.0.1.%d:8080", id+1)}
	return factory.CreateRemoteTask(taskID, node, &vireo.Fragment{}, nil, 1,
		exec.OutputBuffers{}.WithBuffer(0, 0), nil, false).(*exectest.Task)
}

func TestAddExchangeLocations(t *testing.T) {
	stage, factory := newStage(t, exchangeFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(2)
	for i, node := range nodes {
		if _, err := stage.ScheduleTask(node, i, len(nodes)); err != nil {
			t.Fatal(err)
		}
	}

	t1, t2, t3 := upstreamTask(0), upstreamTask(1), upstreamTask(2)
	if err := stage.AddExchangeLocations(2, []exec.RemoteTask{t1}, false); err != nil {
		t.Fatal(err)
	}
	for _, task := range factory.Tasks() {
		if got, want := len(task.Splits("exchange")), 1; got != want {
			t.Fatalf("got %v exchange splits, want %v", got, want)
		}
	}
	if err := stage.AddExchangeLocations(2, []exec.RemoteTask{t2}, true); err != nil {
		t.Fatal(err)
	}
	// Fragment 3 is still outstanding: the source is not complete.
	for _, task := range factory.Tasks() {
		if got := task.NoMoreSplitsCount("exchange"); got != 0 {
			t.Fatalf("premature noMoreSplits: %v", got)
		}
	}
	if err := stage.AddExchangeLocations(3, []exec.RemoteTask{t3}, true); err != nil {
		t.Fatal(err)
	}
	// A redundant no-more notification must not re-signal.
	if err := stage.AddExchangeLocations(3, nil, true); err != nil {
		t.Fatal(err)
	}
	for _, task := range factory.Tasks() {
		if got, want := len(task.Splits("exchange")), 3; got != want {
			t.Errorf("task %s: got %v exchange splits, want %v", task.ID(), got, want)
		}
		if got, want := task.NoMoreSplitsCount("exchange"), 1; got != want {
			t.Errorf("task %s: got %v noMoreSplits, want %v", task.ID(), got, want)
		}
	}

	// A task created later is seeded with splits from every live
	// upstream task and the completion marker.
	if _, err := stage.ScheduleTask(testNodes(3)[2], 2, 3); err != nil {
		t.Fatal(err)
	}
	late := factory.Task(vireo.TaskID{Stage: stage.StageID(), ID: 2})
	if got, want := len(late.Splits("exchange")), 3; got != want {
		t.Errorf("late task: got %v exchange splits, want %v", got, want)
	}
	if got, want := late.NoMoreSplitsCount("exchange"), 1; got != want {
		t.Errorf("late task: got %v noMoreSplits, want %v", got, want)
	}
}

func TestAddExchangeLocationsUnknownFragment(t *testing.T) {
	stage, _ := newStage(t, exchangeFragment(), cluster.NopDetector{})
	err := stage.AddExchangeLocations(99, nil, false)
	if err == nil {
		t.Fatal("expected error for unknown fragment")
	}
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
}

func TestSetOutputBuffersMonotonic(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)

	b1 := exec.OutputBuffers{}.WithBuffer(0, 0)
	b2 := b1.WithBuffer(1, 1)
	if err := stage.SetOutputBuffers(b2); err != nil {
		t.Fatal(err)
	}
	// A stale version is silently ignored.
	if err := stage.SetOutputBuffers(b1); err != nil {
		t.Fatal(err)
	}
	if got, want := stage.OutputBuffers().Version, b2.Version; got != want {
		t.Errorf("got version %v, want %v", got, want)
	}
	// An invalid successor is rejected.
	bad := exec.OutputBuffers{Version: b2.Version + 1, Buffers: map[exec.BufferID]int{0: 0}}
	if err := stage.SetOutputBuffers(bad); err == nil {
		t.Error("expected error for invalid transition")
	}
	if got, want := stage.OutputBuffers().Version, b2.Version; got != want {
		t.Errorf("got version %v, want %v", got, want)
	}
	// The task saw its creation descriptor and the b2 install.
	versions := factory.Tasks()[0].BufferVersions()
	if got, want := versions[len(versions)-1], b2.Version; got != want {
		t.Errorf("got task version %v, want %v", got, want)
	}
}

func TestTaskFailureFailsStage(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(2)
	for _, node := range nodes {
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	}
	stage.SchedulingComplete()

	tasks := factory.Tasks()
	failure := &exec.ExecutionFailureInfo{
		Code:    exec.GenericInternalError,
		Message: "query exceeded memory limit",
		Host:    tasks[0].Node().Addr,
	}
	tasks[0].FailWith(failure)
	if got, want := stage.State(), exec.StageFailed; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := stage.Failure(); got != failure {
		t.Errorf("got failure %v, want %v", got, failure)
	}
	// A later FINISHED from the other task must not reopen the stage.
	tasks[1].Finish()
	if got, want := stage.State(), exec.StageFailed; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

type goneDetector map[string]bool

func (d goneDetector) State(addr string) cluster.NodeLiveness {
	if d[addr] {
		return cluster.NodeGone
	}
	return cluster.NodeAlive
}

func TestTransportFailureRewritten(t *testing.T) {
	detector := goneDetector{}
	stage, factory := newStage(t, scanFragment(), detector)
	stage.BeginScheduling()
	node := testNodes(1)[0]
	stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	stage.SchedulingComplete()

	detector[node.Addr] = true
	original := &exec.ExecutionFailureInfo{
		Code:    exec.GenericInternalError,
		Message: "connection reset",
		Host:    node.Addr,
	}
	factory.Tasks()[0].FailWith(original)
	failure := stage.Failure()
	if got, want := failure.Code, exec.RemoteHostGone; got != want {
		t.Errorf("got code %v, want %v", got, want)
	}
	if got, want := original.Code, exec.GenericInternalError; got != want {
		t.Errorf("original failure mutated: %v", got)
	}
}

func TestUnexpectedAbortFailsStage(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	stage.SchedulingComplete()

	factory.Tasks()[0].SetState(exec.TaskAborted)
	if got, want := stage.State(), exec.StageFailed; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if failure := stage.Failure(); failure == nil || failure.Code != exec.GenericInternalError {
		t.Errorf("got failure %v, want generic internal error", failure)
	}
}

func TestAllTasksFinishedFinishesStage(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(3)
	for _, node := range nodes {
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	}
	stage.SchedulingComplete()

	tasks := factory.Tasks()
	tasks[0].SetState(exec.TaskRunning)
	if got, want := stage.State(), exec.StageRunning; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	tasks[1].SetState(exec.TaskFinished)
	tasks[0].SetState(exec.TaskFinished)
	if got, want := stage.State(), exec.StageRunning; got != want {
		t.Fatalf("got %v before last task, want %v", got, want)
	}
	tasks[2].SetState(exec.TaskFinished)
	if got, want := stage.State(), exec.StageFinished; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFinalStageInfoExactlyOnce(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(2)
	for _, node := range nodes {
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	}
	stage.SchedulingComplete()

	infoc := make(chan *exec.StageInfo, 2)
	stage.AddFinalStageInfoListener(func(info *exec.StageInfo) { infoc <- info })
	for _, task := range factory.Tasks() {
		task.Finish()
	}
	var info *exec.StageInfo
	select {
	case info = <-infoc:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for final stage info")
	}
	if got, want := info.State, exec.StageFinished; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(info.Tasks), 2; got != want {
		t.Errorf("got %v task infos, want %v", got, want)
	}
	select {
	case extra := <-infoc:
		t.Fatalf("final info delivered twice: %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	// Late registration still sees the final info.
	stage.AddFinalStageInfoListener(func(info *exec.StageInfo) { infoc <- info })
	select {
	case late := <-infoc:
		if late != info {
			t.Error("late listener saw different final info")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for late final info")
	}
}

func TestCancelAndAbort(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)

	stage.Cancel()
	if got, want := stage.State(), exec.StageCanceled; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !factory.Tasks()[0].Canceled() {
		t.Error("task not canceled")
	}
	// A later abort does not change the terminal state.
	stage.Abort()
	if got, want := stage.State(), exec.StageCanceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMemoryAccountingDeltas(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	task := factory.Tasks()[0]

	task.Update(func(status *exec.TaskStatus) {
		status.UserMemory = 100
		status.SystemMemory = 50
	})
	if got, want := stage.UserMemoryReservation(), int64(100); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := stage.TotalMemoryReservation(), int64(150); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Cumulative figures are folded as deltas, not re-added.
	task.Update(func(status *exec.TaskStatus) {
		status.UserMemory = 80
		status.RevocableMemory = 20
	})
	if got, want := stage.UserMemoryReservation(), int64(80); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := stage.TotalMemoryReservation(), int64(150); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompletedLifespanDiffs(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	task := factory.Tasks()[0]

	batchc := make(chan []vireo.Lifespan, 4)
	stage.AddCompletedLifespansListener(func(lifespans []vireo.Lifespan) { batchc <- lifespans })

	task.Update(func(status *exec.TaskStatus) {
		status.CompletedLifespans = []vireo.Lifespan{1}
	})
	task.Update(func(status *exec.TaskStatus) {
		status.CompletedLifespans = []vireo.Lifespan{1, 2}
	})
	want := [][]vireo.Lifespan{{1}, {2}}
	for _, w := range want {
		select {
		case got := <-batchc:
			if len(got) != len(w) || got[0] != w[0] {
				t.Errorf("got batch %v, want %v", got, w)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for lifespan batch")
		}
	}
	// An unchanged set produces no batch.
	task.Update(func(status *exec.TaskStatus) {
		status.CompletedLifespans = []vireo.Lifespan{1, 2}
	})
	select {
	case got := <-batchc:
		t.Fatalf("unexpected batch %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitDone(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	stage.SchedulingComplete()
	go factory.Tasks()[0].Finish()
	state, err := stage.WaitDone(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := state, exec.StageFinished; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScheduledNodes(t *testing.T) {
	stage, _ := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	nodes := testNodes(2)
	for _, node := range nodes {
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	}
	scheduled := stage.ScheduledNodes()
	if got, want := len(scheduled), 2; got != want {
		t.Fatalf("got %v nodes, want %v", got, want)
	}
	if !stage.HasTasks() {
		t.Error("expected tasks")
	}
	if got, want := len(stage.AllTasks()), 2; got != want {
		t.Errorf("got %v tasks, want %v", got, want)
	}
}

// A task's terminal status callback can interleave arbitrarily with
// SchedulingComplete. Whatever the order, a stage whose only task
// reports FINISHED must itself reach FINISHED.
func TestTaskFinishRacesSchedulingComplete(t *testing.T) {
	node := testNodes(1)[0]
	for i := 0; i < 200; i++ {
		stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
		stage.BeginScheduling()
		stage.ScheduleSplits(node, vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
		task := factory.Tasks()[0]

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Finish()
		}()
		stage.SchedulingComplete()
		wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		state, err := stage.WaitDone(ctx)
		cancel()
		if err != nil {
			t.Fatalf("iteration %d: stage stuck in %v: %v", i, stage.State(), err)
		}
		if got, want := state, exec.StageFinished; got != want {
			t.Fatalf("iteration %d: got %v, want %v", i, got, want)
		}
		stage.Close()
	}
}

func TestCloseAbortsLiveStage(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	stage.Close()
	if got, want := stage.State(), exec.StageAborted; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !factory.Tasks()[0].Aborted() {
		t.Error("task not aborted")
	}
	stage.Close() // idempotent
}

func TestCloseDeliversFinalInfoToLateListener(t *testing.T) {
	stage, factory := newStage(t, scanFragment(), cluster.NopDetector{})
	stage.BeginScheduling()
	stage.ScheduleSplits(testNodes(1)[0], vireo.SplitAssignment{scanNode: {payloadSplit(0)}}, nil)
	stage.SchedulingComplete()
	factory.Tasks()[0].Finish()
	stage.Close()

	infoc := make(chan *exec.StageInfo, 1)
	stage.AddFinalStageInfoListener(func(info *exec.StageInfo) { infoc <- info })
	select {
	case info := <-infoc:
		if got, want := info.State, exec.StageFinished; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := len(info.Tasks), 1; got != want {
			t.Errorf("got %v task infos, want %v", got, want)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("final info not delivered after close")
	}
}
