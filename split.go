// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package vireo

import "fmt"

// A Split is a unit of input data assignable to a task: either a
// connector split carrying an opaque payload, or a remote split naming
// the output buffer of an upstream task.
type Split struct {
	// Lifespan is the driver group the split belongs to. Ungrouped
	// splits use TaskWide.
	Lifespan Lifespan
	// Hosts optionally lists the worker addresses on which the
	// split's data is local; schedulers use it for placement affinity.
	Hosts []string
	// Payload is the connector-defined description of the data, opaque
	// to the coordination core.
	Payload interface{}
	// Remote is set for exchange splits and nil otherwise.
	Remote *RemoteSplit
}

// A RemoteSplit instructs a task's exchange operator to fetch pages
// from an upstream task's output buffer.
type RemoteSplit struct {
	// Location is the address of the upstream output buffer to read.
	Location string
}

// NewRemoteSplit returns a split that reads the output buffer which
// the upstream task at location has reserved for the reading task.
// Buffer assignment is by task id, which is why task ids must be
// sequential from zero.
func NewRemoteSplit(reader TaskID, location string) Split {
	return Split{
		Lifespan: TaskWide,
		Remote:   &RemoteSplit{Location: fmt.Sprintf("%s/results/%d", location, reader.ID)},
	}
}

// A SplitAssignment maps plan nodes to the splits newly assigned to
// them. Assignments are ordered: splits for one plan node are applied
// in slice order.
type SplitAssignment map[PlanNodeID][]Split

// Add appends a split for the given plan node.
func (a SplitAssignment) Add(node PlanNodeID, split Split) {
	a[node] = append(a[node], split)
}

// Len returns the total number of splits in the assignment.
func (a SplitAssignment) Len() int {
	var n int
	for _, splits := range a {
		n += len(splits)
	}
	return n
}
