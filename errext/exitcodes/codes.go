// Package exitcodes contains the constants representing possible bidiload exit error codes.
//nolint: golint
package exitcodes

// ExitCode is just a type representing a process exit code for bidiload
type ExitCode uint8

// list of exit codes used by bidiload
const (
	ScenariosFailed  ExitCode = 99
	GenericTimeout   ExitCode = 102
	InvalidConfig    ExitCode = 104
	ExternalAbort    ExitCode = 105
	ConnectionFailed ExitCode = 106
	CannotStartSim   ExitCode = 107
)
