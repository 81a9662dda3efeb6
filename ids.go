// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package vireo

import (
	"fmt"

	"github.com/google/uuid"
)

// QueryID uniquely identifies one query accepted by a coordinator.
type QueryID string

// NewQueryID returns a fresh, globally unique query id.
func NewQueryID() QueryID {
	return QueryID(uuid.New().String())
}

// StageID identifies one fragment of a query's distributed plan. Stage
// numbers are assigned by the query scheduler when it lays out the
// plan; they are unique within a query.
type StageID struct {
	Query QueryID
	ID    int
}

// String returns the canonical "query.stage" form of the id.
func (s StageID) String() string {
	return fmt.Sprintf("%s.%d", s.Query, s.ID)
}

// TaskID identifies one task of a stage. Task ids are assigned
// sequentially from zero within a stage; downstream output buffer
// wiring depends on ids being sequential and never reused.
type TaskID struct {
	Stage StageID
	ID    int
}

// String returns the canonical "query.stage.task" form of the id.
func (t TaskID) String() string {
	return fmt.Sprintf("%s.%d", t.Stage, t.ID)
}

// A Lifespan is a driver group: the grouping key used by grouped
// (bucketed) execution to track partial completion within a task. Most
// execution is ungrouped and uses the task-wide lifespan.
type Lifespan int

// TaskWide is the lifespan of ungrouped execution: all drivers of the
// task share it.
const TaskWide Lifespan = -1

// IsTaskWide reports whether l is the task-wide lifespan.
func (l Lifespan) IsTaskWide() bool { return l < 0 }

// String returns "TaskWide" or "Group(n)".
func (l Lifespan) String() string {
	if l.IsTaskWide() {
		return "TaskWide"
	}
	return fmt.Sprintf("Group(%d)", int(l))
}
