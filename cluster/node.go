// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster tracks the membership and liveness of Vireo worker
// nodes: which nodes are active, which are confirmed gone, and whether
// enough workers are available to admit a query.
package cluster

import "fmt"

// A Node is a member of the cluster. Nodes are compared by identity:
// the node manager hands out one *Node per member and reuses it for
// the member's lifetime.
type Node struct {
	// ID is the node's unique identifier, assigned when the node
	// announces itself.
	ID string
	// Addr is the node's host:port address.
	Addr string
	// Coordinator indicates that the node is a coordinator rather
	// than a worker. Coordinators may be excluded from worker counts
	// and from task placement.
	Coordinator bool
}

// String returns the node's address and role.
func (n *Node) String() string {
	if n.Coordinator {
		return fmt.Sprintf("%s (coordinator)", n.Addr)
	}
	return n.Addr
}

// AllNodes is a snapshot of cluster membership.
type AllNodes struct {
	// Active holds every node currently announcing itself, workers
	// and coordinators both.
	Active []*Node
}

// Workers returns the active nodes that are not coordinators.
func (a AllNodes) Workers() []*Node {
	var workers []*Node
	for _, node := range a.Active {
		if !node.Coordinator {
			workers = append(workers, node)
		}
	}
	return workers
}
