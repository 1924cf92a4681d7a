// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// successfailurecounter settles the outcome of one operation, such as a user
// stack capture, into exactly one of two shared counters. A capture that
// runs into an unreadable stack word reports a failure; any capture that
// returns without a report counts as a success.
//
// A SuccessFailureCounter belongs to the goroutine running the operation;
// only the counters it points to are shared.
package successfailurecounter // import "go.opentelemetry.io/probetrap/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// SuccessFailureCounter counts a single operation as succeeded or failed.
type SuccessFailureCounter struct {
	success, fail *atomic.Uint64
	settled       bool
}

// New returns a counter for one operation. Typical use is
//
//	sfc := successfailurecounter.New(&stats.Complete, &stats.Truncated)
//	defer sfc.DefaultToSuccess()
func New(success, fail *atomic.Uint64) SuccessFailureCounter {
	return SuccessFailureCounter{success: success, fail: fail}
}

func (sfc *SuccessFailureCounter) settle(ctr *atomic.Uint64) bool {
	if sfc.settled {
		return false
	}
	ctr.Add(1)
	sfc.settled = true
	return true
}

// ReportFailure counts the operation as failed. Later reports are ignored.
func (sfc *SuccessFailureCounter) ReportFailure() {
	if !sfc.settle(sfc.fail) {
		log.Errorf("Operation outcome reported more than once")
	}
}

// DefaultToSuccess counts the operation as succeeded unless a failure was
// already reported.
func (sfc *SuccessFailureCounter) DefaultToSuccess() {
	sfc.settle(sfc.success)
}
