// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import "testing"

func TestManagerMembership(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 2)
	manager.AddNode(&Node{ID: "coord", Addr: "10.0.0.100:8080", Coordinator: true})

	all := manager.AllNodes()
	if got, want := len(all.Active), 3; got != want {
		t.Errorf("got %v active, want %v", got, want)
	}
	if got, want := len(all.Workers()), 2; got != want {
		t.Errorf("got %v workers, want %v", got, want)
	}

	manager.RemoveNode("worker0")
	if got, want := len(manager.AllNodes().Workers()), 1; got != want {
		t.Errorf("got %v workers, want %v", got, want)
	}
	manager.RemoveNode("no-such-node") // no-op
}

func TestManagerListeners(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 1)

	var snapshots []AllNodes
	cancel := manager.AddNodeChangeListener(func(all AllNodes) {
		snapshots = append(snapshots, all)
	})
	// The listener is invoked immediately with current membership.
	if got, want := len(snapshots), 1; got != want {
		t.Fatalf("got %v snapshots, want %v", got, want)
	}
	if got, want := len(snapshots[0].Active), 1; got != want {
		t.Errorf("got %v active, want %v", got, want)
	}

	manager.AddNode(&Node{ID: "worker1", Addr: "10.0.0.2:8080"})
	if got, want := len(snapshots), 2; got != want {
		t.Fatalf("got %v snapshots, want %v", got, want)
	}

	cancel()
	manager.RemoveNode("worker1")
	if got, want := len(snapshots), 2; got != want {
		t.Errorf("got %v snapshots after cancel, want %v", got, want)
	}
}
