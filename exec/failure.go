// Copyright 2026 the Vireo authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"

	"github.com/vireodb/vireo/cluster"
)

// FailureCode classifies the cause recorded when a stage fails.
// Upstream retry logic distinguishes transport loss (RemoteHostGone)
// from logic failures (GenericInternalError).
type FailureCode int

const (
	// GenericInternalError is a failure with no more specific
	// classification.
	GenericInternalError FailureCode = iota
	// RemoteHostGone indicates the failure was reported from a worker
	// the failure detector has confirmed gone; the underlying cause is
	// presumed to be transport loss, not a logic bug.
	RemoteHostGone
	// InsufficientResources indicates the cluster could not supply the
	// resources a query required, e.g. the minimum worker count was
	// not met in time.
	InsufficientResources
)

var failureCodes = [...]string{
	GenericInternalError:  "GENERIC_INTERNAL_ERROR",
	RemoteHostGone:        "REMOTE_HOST_GONE",
	InsufficientResources: "INSUFFICIENT_RESOURCES",
}

// String returns the code's canonical upper-case name.
func (c FailureCode) String() string { return failureCodes[c] }

// ExecutionFailureInfo records the cause of a task or stage failure.
// The first failure recorded on a stage wins; later failures from
// other tasks are discarded once the stage is terminal.
type ExecutionFailureInfo struct {
	Code    FailureCode
	Message string
	// Host is the worker address the failure was reported from, empty
	// if unattributed.
	Host string
	// Err is the underlying error, if one was captured.
	Err error
}

// Error implements error.
func (f *ExecutionFailureInfo) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// rewriteTransportFailure recodes f as RemoteHostGone when its
// reported host is confirmed gone by the failure detector. The
// original info is never mutated.
func rewriteTransportFailure(detector cluster.FailureDetector, f *ExecutionFailureInfo) *ExecutionFailureInfo {
	if f.Host == "" || detector.State(f.Host) != cluster.NodeGone {
		return f
	}
	g := *f
	g.Code = RemoteHostGone
	return &g
}
