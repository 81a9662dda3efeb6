// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// NodeLiveness is a failure detector's assessment of one host.
type NodeLiveness int

const (
	// NodeAlive indicates the host is responding.
	NodeAlive NodeLiveness = iota
	// NodeGone indicates the host has been confirmed unreachable.
	// Failures attributed to a gone host are recoded as transport
	// failures rather than logic failures.
	NodeGone
)

// A FailureDetector reports the liveness of cluster hosts. It is
// consulted when a remote task fails, to decide whether the failure
// should be attributed to a lost worker.
type FailureDetector interface {
	// State returns the current assessment of the host at addr.
	// Unknown hosts are NodeAlive: a host is only declared gone on
	// positive evidence.
	State(addr string) NodeLiveness
}

// NopDetector is a FailureDetector that never declares a host gone.
type NopDetector struct{}

// State implements FailureDetector.
func (NopDetector) State(string) NodeLiveness { return NodeAlive }

// heartbeatPolicy paces ping retries within one sweep.
var heartbeatPolicy = retry.Backoff(100*time.Millisecond, time.Second, 1.5)

// A HeartbeatDetector pings every active node on a fixed interval and
// declares a node gone after a configured number of consecutive failed
// sweeps. A successful ping immediately restores the node to alive.
type HeartbeatDetector struct {
	manager   NodeManager
	ping      func(ctx context.Context, addr string) error
	interval  time.Duration
	retries   int
	threshold int

	mu       sync.Mutex
	failures map[string]int
}

// NewHeartbeatDetector returns a detector that pings nodes known to
// manager using ping. The detector is passive until Go is called.
func NewHeartbeatDetector(manager NodeManager, ping func(ctx context.Context, addr string) error, interval time.Duration, threshold int) *HeartbeatDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &HeartbeatDetector{
		manager:   manager,
		ping:      ping,
		interval:  interval,
		retries:   3,
		threshold: threshold,
		failures:  make(map[string]int),
	}
}

// Go runs heartbeat sweeps until the context is done. It is typically
// invoked in its own goroutine.
func (d *HeartbeatDetector) Go(ctx context.Context) {
	tick := time.NewTicker(d.interval)
	defer tick.Stop()
	for {
		d.sweep(ctx)
		select {
		case <-tick.C:
		case <-ctx.Done():
			return
		}
	}
}

// State implements FailureDetector.
func (d *HeartbeatDetector) State(addr string) NodeLiveness {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures[addr] >= d.threshold {
		return NodeGone
	}
	return NodeAlive
}

// sweep pings every active node once, in parallel, and folds the
// results into the per-node failure counts.
func (d *HeartbeatDetector) sweep(ctx context.Context) {
	nodes := d.manager.AllNodes().Active
	errs := make([]error, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			errs[i] = d.pingWithRetry(gctx, node.Addr)
			return nil
		})
	}
	_ = g.Wait()

	var sweepErr error
	d.mu.Lock()
	for i, node := range nodes {
		if errs[i] == nil {
			delete(d.failures, node.Addr)
			continue
		}
		d.failures[node.Addr]++
		if d.failures[node.Addr] == d.threshold {
			log.Error.Printf("cluster: node %s confirmed gone: %v", node, errs[i])
		}
		sweepErr = multierror.Append(sweepErr, errs[i])
	}
	// Forget hosts that have left the cluster so that a returning
	// host with the same address starts clean.
	known := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		known[node.Addr] = true
	}
	for addr := range d.failures {
		if !known[addr] {
			delete(d.failures, addr)
		}
	}
	d.mu.Unlock()
	if sweepErr != nil {
		log.Debug.Printf("cluster: heartbeat sweep: %v", sweepErr)
	}
}

func (d *HeartbeatDetector) pingWithRetry(ctx context.Context, addr string) error {
	var err error
	for try := 0; try < d.retries; try++ {
		if err = d.ping(ctx, addr); err == nil {
			return nil
		}
		if try < d.retries-1 {
			if werr := retry.Wait(ctx, heartbeatPolicy, try); werr != nil {
				return err
			}
		}
	}
	return err
}
