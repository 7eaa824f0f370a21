// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors provides user-facing errors and exit codes for the
// vecsync CLI.
//
// A UserError carries three pieces of information for the operator:
//   - Message: what went wrong
//   - Cause: why it happened
//   - Fix: what to do about it
//
// plus the process exit code and an optional wrapped error. Commands return
// UserErrors; main hands whatever it gets to Report, which prints it and
// returns the exit code:
//
//	if err := run(); err != nil {
//	    os.Exit(errors.Report(os.Stderr, err, jsonMode, noColor))
//	}
//
// Terminal output:
//
//	Error: Another ingestion run is active
//	Cause: PID 4242 holds .vecsync/vecsync.pid
//	Fix:   Wait for it to finish or stop it before starting a new run
//
// JSON output (--json):
//
//	{
//	  "error": "Another ingestion run is active",
//	  "cause": "PID 4242 holds .vecsync/vecsync.pid",
//	  "fix": "Wait for it to finish or stop it before starting a new run",
//	  "exit_code": 7
//	}
//
// # Exit Codes
//
//   - ExitSuccess (0): success
//   - ExitConfig (1): missing or invalid configuration, missing credentials
//   - ExitStorage (2): vector store, checkpoint or chunk database failures
//   - ExitNetwork (3): embedding provider unreachable
//   - ExitInput (4): bad flags or arguments
//   - ExitPermission (5): file access denied
//   - ExitNotFound (6): nothing to act on (no store, no backup)
//   - ExitBusy (7): another instance holds the PID file
//   - ExitInternal (10): bugs
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	ExitSuccess    = 0
	ExitConfig     = 1
	ExitStorage    = 2
	ExitNetwork    = 3
	ExitInput      = 4
	ExitPermission = 5
	ExitNotFound   = 6
	ExitBusy       = 7

	// ExitInternal signals a bug that should be reported.
	ExitInternal = 10
)

// UserError is an error with operator-facing context and an exit code.
type UserError struct {
	Message  string
	Cause    string
	Fix      string
	ExitCode int
	Err      error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *UserError) Unwrap() error {
	return e.Err
}

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: code, Err: err}
}

// NewConfigError reports missing or invalid configuration.
//
// Example:
//
//	return errors.NewConfigError(
//	    "Cannot load vecsync configuration",
//	    ".vecsync/config.yaml does not exist",
//	    "Run 'vecsync init' to create one",
//	    err,
//	)
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewStorageError reports a failure reading or writing persistent state:
// the vector store, the checkpoint or the chunk database.
func NewStorageError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitStorage, msg, cause, fix, err)
}

// NewNetworkError reports an unreachable or failing remote service.
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitNetwork, msg, cause, fix, err)
}

// NewInputError reports invalid flags or arguments.
func NewInputError(msg, cause, fix string) *UserError {
	return newUserError(ExitInput, msg, cause, fix, nil)
}

// NewPermissionError reports denied file access.
func NewPermissionError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitPermission, msg, cause, fix, err)
}

// NewNotFoundError reports that there is nothing to act on.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, nil)
}

// NewBusyError reports that another instance is already running.
func NewBusyError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitBusy, msg, cause, fix, err)
}

// NewInternalError reports a bug.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

// ExitCode returns the exit code for err: 0 for nil, the code of the first
// UserError in the chain, ExitInternal otherwise.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue.ExitCode
	}
	return ExitInternal
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for a terminal. Empty Cause and Fix lines are
// omitted. Colors are disabled by noColor or NO_COLOR.
func (e *UserError) Format(noColor bool) string {
	saved := color.NoColor
	defer func() { color.NoColor = saved }()
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var b strings.Builder
	line := func(label *color.Color, prefix, text string) {
		b.WriteString(label.Sprint(prefix))
		b.WriteString(text)
		b.WriteByte('\n')
	}
	line(colorError, "Error: ", e.Message)
	if e.Cause != "" {
		line(colorCause, "Cause: ", e.Cause)
	}
	if e.Fix != "" {
		line(colorFix, "Fix:   ", e.Fix)
	}
	return b.String()
}

// ErrorJSON is the --json rendering of a UserError.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the error for JSON output.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{Error: e.Message, Cause: e.Cause, Fix: e.Fix, ExitCode: e.ExitCode}
}

// Report writes err to w and returns the exit code the process should use.
// Errors that are not UserErrors are reported as internal errors.
func Report(w io.Writer, err error, jsonOutput, noColor bool) int {
	if err == nil {
		return ExitSuccess
	}

	var ue *UserError
	if !stderrors.As(err, &ue) {
		ue = NewInternalError(err.Error(), "", "This is a bug. Please report it with the log output", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ue.ToJSON())
	} else {
		_, _ = io.WriteString(w, ue.Format(noColor))
	}
	return ue.ExitCode
}
