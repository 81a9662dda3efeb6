// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package scheduler places the tasks and splits of a stage onto worker
// nodes. Two scheduling modes exist, and they are mutually exclusive
// per stage: fixed-count scheduling creates one task per output
// partition up front, and source-partitioned scheduling creates tasks
// lazily as connector splits are fetched and assigned.
package scheduler

// Config holds the placement limits shared by node selectors.
type Config struct {
	// MaxSplitsPerNode caps the number of partitioned splits queued on
	// one worker across all queries.
	MaxSplitsPerNode int
	// SplitBatchSize is the number of splits fetched from a split
	// source per batch.
	SplitBatchSize int
	// IncludeCoordinator admits the coordinator node as a task
	// placement target. Off for all but single-node deployments.
	IncludeCoordinator bool
}

// DefaultConfig is the configuration used when none is supplied.
var DefaultConfig = Config{
	MaxSplitsPerNode: 100,
	SplitBatchSize:   1000,
}

func (c Config) withDefaults() Config {
	if c.MaxSplitsPerNode == 0 {
		c.MaxSplitsPerNode = DefaultConfig.MaxSplitsPerNode
	}
	if c.SplitBatchSize == 0 {
		c.SplitBatchSize = DefaultConfig.SplitBatchSize
	}
	return c
}
