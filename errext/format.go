// Package errext contains extensions for normal Go errors that are used in bidiload.
package errext

import (
	"errors"
)

// Format splits err into its message and the log fields of its hint and
// exit code, if it has them.
func Format(err error) (string, map[string]interface{}) {
	if err == nil {
		return "", nil
	}

	fields := make(map[string]interface{})
	var herr HasHint
	if errors.As(err, &herr) {
		fields["hint"] = herr.Hint()
	}
	if code, ok := ExitCode(err); ok {
		fields["exit_code"] = int(code)
	}

	return err.Error(), fields
}
