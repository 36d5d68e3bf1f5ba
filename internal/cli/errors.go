package cli

import (
	"fmt"

	"github.com/roach88/edgesync/internal/record"
)

// fail reports err in structured output formats and returns it with an
// exit code. Text output is left to the caller of Execute.
func fail(f *OutputFormatter, code int, message string, err error) error {
	if f.Format != "text" {
		ecode := string(record.CodeOf(err))
		if ecode == "" {
			ecode = "COMMAND"
		}
		_ = f.Error(ecode, fmt.Sprintf("%s: %v", message, err), nil)
	}
	return WrapExitError(code, message, err)
}

// exitCodeFor maps a record error to an exit code: invalid input is a
// command error, everything else a failure.
func exitCodeFor(err error) int {
	if record.IsValidation(err) {
		return ExitCommandError
	}
	return ExitFailure
}
