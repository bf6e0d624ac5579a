/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package bidi

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnectionClosed is returned for commands pending or issued after the
// WebSocket connection went away.
var ErrConnectionClosed = errors.New("bidi: connection closed")

// Error is an error reply sent by the remote end.
type Error struct {
	Command    string
	Code       string
	Message    string
	Stacktrace string
}

func (e *Error) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Command, e.Code, e.Message)
}

// IsErrorCode reports whether err is a remote *Error carrying code.
func IsErrorCode(err error, code string) bool {
	var berr *Error
	return errors.As(err, &berr) && berr.Code == code
}

// TimeoutError is returned when a bounded wait elapses. Waiting for an
// event that must not arrive is expressed by expecting this error.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.After, e.Op)
}

// Timeout makes TimeoutError satisfy the net.Error style timeout check.
func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var terr *TimeoutError
	return errors.As(err, &terr)
}

// EvaluateException is returned by script evaluation that threw.
type EvaluateException struct {
	Details ExceptionDetails
}

func (e *EvaluateException) Error() string {
	return fmt.Sprintf("script exception at %d:%d: %s",
		e.Details.LineNumber, e.Details.ColumnNumber, e.Details.Text)
}
