// Package errors renders failures for the command line: what went wrong,
// why, and how to fix it, with an exit code per category.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/maloquacious/wealthwise/internal/store"
)

// Exit codes for different error categories.
const (
	ExitSuccess  = 0
	ExitConfig   = 1
	ExitDatabase = 2
	ExitInput    = 4
	ExitInternal = 10
)

// HardResetFix is the suggestion shown when the datastore cannot be used.
const HardResetFix = "Run: app db reset --hard (this erases all local data)"

// UserError carries a message, its cause and a suggested fix.
type UserError struct {
	Message  string
	Cause    string
	Fix      string
	ExitCode int
	Err      error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func NewConfigError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitConfig, Err: err}
}

func NewDatabaseError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitDatabase, Err: err}
}

func NewInputError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitInput, Err: err}
}

// FromStore turns a storage failure into a UserError. Errors that are
// already UserErrors pass through; anything else is internal.
func FromStore(err error) *UserError {
	if err == nil {
		return nil
	}
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue
	}

	var corrupt *store.CorruptionError
	var migration *store.MigrationError
	var initErr *store.InitializationError
	var queryErr *store.QueryError
	switch {
	case stderrors.As(err, &corrupt):
		return NewDatabaseError("The local datastore is corrupted",
			"Recovery erased the store but it still could not be opened", HardResetFix, err)
	case stderrors.As(err, &migration):
		return NewDatabaseError("The local datastore has an unsupported schema version",
			fmt.Sprintf("Stored version %d cannot be migrated to %d", migration.From, migration.To),
			"Upgrade WealthWise, or run: app db reset --hard (this erases all local data)", err)
	case stderrors.As(err, &initErr):
		return NewDatabaseError("Cannot initialize the local datastore",
			"Initialization failed during "+initErr.Stage, HardResetFix, err)
	case stderrors.As(err, &queryErr):
		return NewDatabaseError("A datastore statement failed", "", "", err)
	case stderrors.Is(err, store.ErrBusy):
		return NewDatabaseError("The local datastore is busy",
			"Another operation held the connection for too long", "Retry the operation", err)
	case stderrors.Is(err, store.ErrNotInitialized):
		return &UserError{Message: "The datastore was used before it was initialized", ExitCode: ExitInternal, Err: err}
	}
	return &UserError{Message: "Unexpected error", ExitCode: ExitInternal, Err: err}
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns the error for terminal display. Color is disabled by
// noColor or the NO_COLOR environment variable.
func (e *UserError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")
	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	if e.Err != nil {
		out.WriteString("Detail: ")
		out.WriteString(e.Err.Error())
		out.WriteString("\n")
	}
	return out.String()
}

// ErrorJSON is the machine-readable form of a UserError.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	Detail   string `json:"detail,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (e *UserError) ToJSON() ErrorJSON {
	out := ErrorJSON{Error: e.Message, Cause: e.Cause, Fix: e.Fix, ExitCode: e.ExitCode}
	if e.Err != nil {
		out.Detail = e.Err.Error()
	}
	return out
}

// Report writes err to w and returns the exit code to use.
func Report(w io.Writer, err error, jsonOutput, noColor bool) int {
	if err == nil {
		return ExitSuccess
	}
	ue := FromStore(err)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ue.ToJSON())
	} else {
		fmt.Fprint(w, ue.Format(noColor))
	}
	return ue.ExitCode
}
