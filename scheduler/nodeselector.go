// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package scheduler

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
	"github.com/vireodb/vireo"
	"github.com/vireodb/vireo/cluster"
	"github.com/vireodb/vireo/exec"
)

var selectorSeq uint32

// A UniformNodeSelector picks worker nodes for tasks and splits.
// Splits with host affinity go to a matching worker when one is
// active; the rest are spread by queued split count, consulting the
// shared NodeTaskMap so that placement is fair across concurrent
// stages. Candidate order is randomized per selector by seeded
// hashing, so concurrent selectors do not all break ties toward the
// same worker.
type UniformNodeSelector struct {
	manager     cluster.NodeManager
	nodeTaskMap *exec.NodeTaskMap
	config      Config
	seed        uint32
}

// NewUniformNodeSelector returns a selector drawing candidates from
// manager and split counts from nodeTaskMap.
func NewUniformNodeSelector(manager cluster.NodeManager, nodeTaskMap *exec.NodeTaskMap, config Config) *UniformNodeSelector {
	return &UniformNodeSelector{
		manager:     manager,
		nodeTaskMap: nodeTaskMap,
		config:      config.withDefaults(),
		seed:        atomic.AddUint32(&selectorSeq, 1),
	}
}

// candidates returns the eligible placement targets in this selector's
// hashed order.
func (s *UniformNodeSelector) candidates() []*cluster.Node {
	all := s.manager.AllNodes()
	var nodes []*cluster.Node
	if s.config.IncludeCoordinator {
		nodes = append(nodes, all.Active...)
	} else {
		nodes = all.Workers()
	}
	sort.Slice(nodes, func(i, j int) bool {
		return murmur3.Sum64WithSeed([]byte(nodes[i].ID), s.seed) <
			murmur3.Sum64WithSeed([]byte(nodes[j].ID), s.seed)
	})
	return nodes
}

// SelectNodes returns up to count distinct placement targets, or an
// error if the cluster has none.
func (s *UniformNodeSelector) SelectNodes(count int) ([]*cluster.Node, error) {
	nodes := s.candidates()
	if len(nodes) == 0 {
		return nil, errors.E(errors.Unavailable, "no worker nodes available")
	}
	if len(nodes) > count {
		nodes = nodes[:count]
	}
	return nodes, nil
}

// AssignSplits distributes splits over the active workers. Each split
// with host affinity is placed on a matching worker with remaining
// capacity when possible; all other splits go to the candidate with
// the fewest queued splits, counting both the NodeTaskMap's view and
// assignments made earlier in this call. AssignSplits fails when no
// worker is active or every worker is at MaxSplitsPerNode.
func (s *UniformNodeSelector) AssignSplits(splits []vireo.Split) (map[*cluster.Node][]vireo.Split, error) {
	nodes := s.candidates()
	if len(nodes) == 0 {
		return nil, errors.E(errors.Unavailable, "no worker nodes available")
	}
	queued := make(map[*cluster.Node]int, len(nodes))
	for _, node := range nodes {
		queued[node] = s.nodeTaskMap.PartitionedSplitsOnNode(node)
	}
	assignments := make(map[*cluster.Node][]vireo.Split)
	for _, split := range splits {
		node := s.pickNode(nodes, queued, split)
		if node == nil {
			return nil, errors.E(errors.Unavailable,
				"no worker has capacity for more splits")
		}
		assignments[node] = append(assignments[node], split)
		queued[node]++
	}
	return assignments, nil
}

func (s *UniformNodeSelector) pickNode(nodes []*cluster.Node, queued map[*cluster.Node]int, split vireo.Split) *cluster.Node {
	if len(split.Hosts) > 0 {
		if node := s.pickLocalNode(nodes, queued, split.Hosts); node != nil {
			return node
		}
	}
	var best *cluster.Node
	for _, node := range nodes {
		if queued[node] >= s.config.MaxSplitsPerNode {
			continue
		}
		if best == nil || queued[node] < queued[best] {
			best = node
		}
	}
	return best
}

func (s *UniformNodeSelector) pickLocalNode(nodes []*cluster.Node, queued map[*cluster.Node]int, hosts []string) *cluster.Node {
	var best *cluster.Node
	for _, node := range nodes {
		if queued[node] >= s.config.MaxSplitsPerNode {
			continue
		}
		if !hostMatches(node.Addr, hosts) {
			continue
		}
		if best == nil || queued[node] < queued[best] {
			best = node
		}
	}
	return best
}

// hostMatches reports whether addr's host component names one of
// hosts.
func hostMatches(addr string, hosts []string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	for _, h := range hosts {
		if h == host || h == addr {
			return true
		}
	}
	return false
}
