package cmd

import (
	"errors"
	"fmt"
)

// Exit codes for hitrun CLI
const (
	// ExitSuccess indicates all tests passed
	ExitSuccess = 0

	// ExitTestFailure indicates one or more tests or suites failed
	ExitTestFailure = 1

	// ExitCollectError indicates a suite could not be collected
	ExitCollectError = 2

	// ExitConfigError indicates a configuration error
	ExitConfigError = 3

	// ExitHistoryError indicates the history database could not be used
	ExitHistoryError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)

// exitError carries an exit code. A nil err exits without a message.
type exitError struct {
	code int
	err  error
}

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitTestFailure
}
