// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package vireo

// PlanNodeID identifies one node of a plan fragment.
type PlanNodeID string

// FragmentID identifies one fragment of a distributed plan within a
// query.
type FragmentID int

// A RemoteSourceNode is the plan node through which a fragment
// consumes the output of one or more upstream fragments. At execution
// time the node is fed remote splits, one per upstream task output
// buffer, as upstream stages schedule their tasks.
type RemoteSourceNode struct {
	// ID is the id of the exchange node in the local fragment.
	ID PlanNodeID
	// SourceFragments are the upstream fragments feeding this node.
	// The node's input is complete only when every one of them has
	// reported that no more task locations will arrive.
	SourceFragments []FragmentID
}

// A Fragment is one fragment of a distributed query plan: the unit of
// work executed by a single stage. Fragments are immutable once
// planned.
type Fragment struct {
	ID FragmentID
	// PartitionedSources are the leaf plan nodes of the fragment that
	// consume connector splits (table scans and the like).
	PartitionedSources []PlanNodeID
	// RemoteSources are the exchange nodes of the fragment, each
	// consuming the output of upstream fragments.
	RemoteSources []RemoteSourceNode
}

// IsPartitionedSource reports whether id names one of the fragment's
// partitioned sources.
func (f *Fragment) IsPartitionedSource(id PlanNodeID) bool {
	for _, source := range f.PartitionedSources {
		if source == id {
			return true
		}
	}
	return false
}
