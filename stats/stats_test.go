// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	var (
		c  Counter
		wg sync.WaitGroup
	)
	const N = 100
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	if got, want := c.Get(), int64(N*1000); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	c.Add(-500)
	if got, want := c.Get(), int64(N*1000-500); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	c.Set(42)
	if got, want := c.Get(), int64(42); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTimeDistribution(t *testing.T) {
	var d TimeDistribution
	if got := d.Snapshot(); got.Count != 0 || got.Mean() != 0 {
		t.Errorf("unexpected zero snapshot %+v", got)
	}
	d.Add(2 * time.Second)
	d.Add(4 * time.Second)
	d.Add(3 * time.Second)
	snap := d.Snapshot()
	if got, want := snap.Count, int64(3); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := snap.Min, 2*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := snap.Max, 4*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := snap.Mean(), 3*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
