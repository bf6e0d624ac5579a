package errext

import "errors"

// HasHint is an error that carries advice for the user, e.g. how to start a
// browser with its BiDi endpoint enabled when dialing failed.
type HasHint interface {
	error
	Hint() string
}

// WithHint attaches hint to err. A hint already in the chain of err is kept
// in parentheses after the new one. A nil err stays nil.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	var inner HasHint
	if errors.As(err, &inner) {
		hint += " (" + inner.Hint() + ")"
	}
	return &hintError{err: err, hint: hint}
}

type hintError struct {
	err  error
	hint string
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }
func (e *hintError) Hint() string  { return e.hint }
