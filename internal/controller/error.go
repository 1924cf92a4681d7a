// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

// ExitExpectationFailed is the exit code of a run whose results did not match
// the expectations of the scenario.
const ExitExpectationFailed = 3

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}
