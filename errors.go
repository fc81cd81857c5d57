package opteamcity

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-teamcity/exitcodes"
	"github.com/ethereum-optimism/infra/op-teamcity/gotest"
)

// RuntimeError means the run itself could not be completed, e.g. bad
// configuration, unreadable input or a go binary that cannot start.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a completed run in which tests failed or errored
type TestFailureError struct {
	Failed int
	Errors int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d failed, %d errors", e.Failed, e.Errors)
}

func NewTestFailureError(stats gotest.Stats) *TestFailureError {
	return &TestFailureError{Failed: stats.Failed, Errors: stats.Errors}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps the error returned by a run to the process exit code.
// Errors of unknown type count as test failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
