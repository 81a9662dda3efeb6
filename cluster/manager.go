// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"sync"

	"github.com/grailbio/base/log"
)

// A NodeManager tracks cluster membership. Membership changes are
// pushed to registered listeners; the discovery mechanism behind a
// manager (announcements, service registry) is up to the implementation.
type NodeManager interface {
	// AllNodes returns a snapshot of current membership.
	AllNodes() AllNodes
	// AddNodeChangeListener registers l to be called with a new
	// snapshot whenever membership changes. The returned function
	// cancels the registration.
	AddNodeChangeListener(l func(AllNodes)) (cancel func())
}

// Manager is an in-memory NodeManager maintained by explicit AddNode
// and RemoveNode calls. It backs tests and embedded single-process
// deployments; service-discovery based managers satisfy the same
// interface.
type Manager struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	listeners map[int]func(AllNodes)
	nextID    int
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		nodes:     make(map[string]*Node),
		listeners: make(map[int]func(AllNodes)),
	}
}

// AddNode adds node to the membership and notifies listeners. Adding
// a node with an already-registered id replaces the previous entry.
func (m *Manager) AddNode(node *Node) {
	m.mu.Lock()
	m.nodes[node.ID] = node
	m.notifyLocked()
	m.mu.Unlock()
	log.Debug.Printf("cluster: node %s added", node)
}

// RemoveNode removes the node with the given id, if present, and
// notifies listeners.
func (m *Manager) RemoveNode(id string) {
	m.mu.Lock()
	node, ok := m.nodes[id]
	if ok {
		delete(m.nodes, id)
		m.notifyLocked()
	}
	m.mu.Unlock()
	if ok {
		log.Debug.Printf("cluster: node %s removed", node)
	}
}

// AllNodes implements NodeManager.
func (m *Manager) AllNodes() AllNodes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// AddNodeChangeListener implements NodeManager. The listener is
// invoked with the current snapshot immediately upon registration.
func (m *Manager) AddNodeChangeListener(l func(AllNodes)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	l(snapshot)
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) snapshotLocked() AllNodes {
	active := make([]*Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		active = append(active, node)
	}
	return AllNodes{Active: active}
}

func (m *Manager) notifyLocked() {
	snapshot := m.snapshotLocked()
	for _, l := range m.listeners {
		l(snapshot)
	}
}
