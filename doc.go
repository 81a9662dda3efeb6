// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package vireo contains the domain model shared by the Vireo
// distributed SQL engine: query, stage, and task identifiers, plan
// fragments, and splits. The coordination machinery that executes plan
// fragments lives in package exec; cluster membership and worker
// liveness live in package cluster; split and task placement live in
// package scheduler.
//
// A query is planned as a tree of fragments. Each fragment is executed
// as a stage comprising one or more parallel tasks, each task resident
// on one worker node. Tasks consume splits: units of input data that
// are either connector splits (a file range, a table partition) or
// remote splits naming the output buffer of an upstream task.
package vireo
