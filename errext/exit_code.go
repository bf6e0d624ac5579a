package errext

import (
	"errors"

	"github.com/liuxd6825/bidiload/errext/exitcodes"
)

// HasExitCode is an error that decides the exit code of bidiload.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithExitCodeIfNone attaches code to err unless some error in its chain
// already carries one. A nil err stays nil.
func WithExitCodeIfNone(err error, code exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	if _, ok := ExitCode(err); ok {
		return err
	}
	return &exitCodeError{err: err, code: code}
}

// ExitCode returns the first exit code found in the chain of err.
func ExitCode(err error) (exitcodes.ExitCode, bool) {
	var ecerr HasExitCode
	if !errors.As(err, &ecerr) {
		return 0, false
	}
	return ecerr.ExitCode(), true
}

type exitCodeError struct {
	err  error
	code exitcodes.ExitCode
}

func (e *exitCodeError) Error() string                { return e.err.Error() }
func (e *exitCodeError) Unwrap() error                { return e.err }
func (e *exitCodeError) ExitCode() exitcodes.ExitCode { return e.code }
