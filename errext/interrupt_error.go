package errext

import (
	"errors"

	"github.com/liuxd6825/bidiload/errext/exitcodes"
)

// InterruptError is an error that halts a conformance run before all
// scenarios finished, e.g. because the process received a signal.
type InterruptError struct {
	Reason string
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the bidiload process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	return exitcodes.ExternalAbort
}

// AbortRun is the reason emitted when the run is interrupted by a signal.
const AbortRun = "conformance run aborted"

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}
