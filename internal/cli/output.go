package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failure (no such identity, rejected batch, failed scenarios, etc.)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, database cannot be opened, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Error codes reported in CLIError.Code.
const (
	CodeInvalidInput     = "E001"
	CodeNotFound         = "E002"
	CodeConflict         = "E003"
	CodeStoreUnavailable = "E004"
	CodeSyncFailure      = "E005"
	CodeReindexFailure   = "E006"
	CodeInvalidConfig    = "E007"
	CodeScenarioFailure  = "E008"
	CodeInternal         = "E099"
)

// ErrorCode classifies err for machine-readable output.
func ErrorCode(err error) string {
	var cfgErr *config.ValidationError
	switch {
	case errors.As(err, &cfgErr):
		return CodeInvalidConfig
	case errors.Is(err, model.ErrReindexFailure):
		return CodeReindexFailure
	case errors.Is(err, model.ErrSyncBatchFailure):
		return CodeSyncFailure
	case errors.Is(err, model.ErrDimensionMismatch),
		errors.Is(err, model.ErrInvalidEmbedding),
		errors.Is(err, model.ErrInvalidTolerance),
		errors.Is(err, model.ErrInvalidRecord):
		return CodeInvalidInput
	case errors.Is(err, model.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, model.ErrConflict):
		return CodeConflict
	case errors.Is(err, model.ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, errScenariosFailed):
		return CodeScenarioFailure
	case GetExitCode(err) == ExitCommandError:
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

// textRenderer is implemented by command results that have a human
// readable form other than their fmt default.
type textRenderer interface {
	renderText(w io.Writer)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(textRenderer); ok {
		r.renderText(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format. JSON errors go to
// Writer so the envelope stays on one stream; text errors go to ErrWriter.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	w := f.GetErrWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
