// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
)

func addWorkers(m *Manager, n int) {
	for i := 0; i < n; i++ {
		m.AddNode(&Node{ID: fmt.Sprintf("worker%d", i), Addr: fmt.Sprintf("10.0.0.%d:8080", i+1)})
	}
}

func TestSizeGateAlreadySatisfied(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 3)
	gate := NewSizeGate(manager, 3, time.Minute, false)
	gate.Start()
	defer gate.Stop()
	select {
	case err := <-gate.WaitForMinimumWorkers():
		if err != nil {
			t.Fatal(err)
		}
	default:
		t.Fatal("expected immediate satisfaction")
	}
}

func TestSizeGateResolvesOnGrowth(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 2)
	gate := NewSizeGate(manager, 3, time.Minute, false)
	gate.Start()
	defer gate.Stop()

	wait := gate.WaitForMinimumWorkers()
	select {
	case err := <-wait:
		t.Fatalf("premature resolution: %v", err)
	case <-time.After(10 * time.Millisecond):
	}
	manager.AddNode(&Node{ID: "worker2", Addr: "10.0.0.3:8080"})
	select {
	case err := <-wait:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func TestSizeGateTimeout(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 2)
	gate := NewSizeGate(manager, 3, 20*time.Millisecond, false)
	gate.Start()
	defer gate.Stop()

	select {
	case err := <-gate.WaitForMinimumWorkers():
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if !errors.Is(errors.Unavailable, err) {
			t.Errorf("got %v, want Unavailable", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for gate timeout")
	}
}

func TestSizeGateNoLateFailureAfterSuccess(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 2)
	gate := NewSizeGate(manager, 3, 20*time.Millisecond, false)
	gate.Start()
	defer gate.Stop()

	wait := gate.WaitForMinimumWorkers()
	manager.AddNode(&Node{ID: "worker2", Addr: "10.0.0.3:8080"})
	if err := <-wait; err != nil {
		t.Fatal(err)
	}
	// The timeout must have been canceled: no second value arrives.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-wait:
		t.Fatalf("late failure after success: %v", err)
	default:
	}
}

func TestSizeGateExcludesCoordinator(t *testing.T) {
	manager := NewManager()
	addWorkers(manager, 2)
	manager.AddNode(&Node{ID: "coord", Addr: "10.0.0.100:8080", Coordinator: true})

	gate := NewSizeGate(manager, 3, 20*time.Millisecond, false)
	gate.Start()
	defer gate.Stop()
	select {
	case <-gate.WaitForMinimumWorkers():
		t.Fatal("coordinator must not count toward the minimum")
	default:
	}

	inclusive := NewSizeGate(manager, 3, time.Minute, true)
	inclusive.Start()
	defer inclusive.Stop()
	select {
	case err := <-inclusive.WaitForMinimumWorkers():
		if err != nil {
			t.Fatal(err)
		}
	default:
		t.Fatal("coordinator should count when included")
	}
}
