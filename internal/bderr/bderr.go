// Package bderr defines the machine-readable error taxonomy shared by the
// service, the store, and the CLI. Every error that crosses the service
// boundary carries a stable Code so programmatic callers (agents) can branch
// on it without parsing messages.
package bderr

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code string

const (
	// Validation errors.
	CodeInvalidField      Code = "invalid_field"
	CodeInvalidTransition Code = "invalid_transition"
	CodeUnknownLinkType   Code = "unknown_link_type"
	CodeSelfLink          Code = "self_link"
	CodeDuplicateLink     Code = "duplicate_link"

	// Not found.
	CodeIssueNotFound Code = "issue_not_found"
	CodeLinkNotFound  Code = "link_not_found"

	// Graph errors.
	CodeCycleDetected Code = "cycle_detected"
	CodeGraphCorrupt  Code = "graph_corrupt"

	// Storage errors.
	CodeStoreBusy      Code = "store_busy"
	CodeTimeout        Code = "timeout"
	CodeSchemaMismatch Code = "schema_mismatch"
	CodeIoError        Code = "io_error"

	// Internal errors.
	CodeIdExhaustion Code = "id_exhaustion"
	CodeInvariant    Code = "invariant"
)

// Error is a coded error. Path and Nodes are populated only for the graph
// error codes.
type Error struct {
	Code    Code
	Message string

	// Path holds the offending cycle for CodeCycleDetected, first and last
	// element equal.
	Path []string

	// Nodes holds the corrupt node set for CodeGraphCorrupt.
	Nodes []string

	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is makes errors.Is match on equal codes, so sentinel-style checks like
// errors.Is(err, bderr.New(bderr.CodeIssueNotFound, "")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a coded error.
func New(code Code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code Code, err error, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...), wrapped: err}
}

// Cycle creates a CycleDetected error carrying the offending path.
func Cycle(path []string) *Error {
	return &Error{
		Code:    CodeCycleDetected,
		Message: fmt.Sprintf("dependency would create a cycle: %v", path),
		Path:    path,
	}
}

// Corrupt creates a GraphCorrupt error carrying the offending nodes.
func Corrupt(nodes []string) *Error {
	return &Error{
		Code:    CodeGraphCorrupt,
		Message: fmt.Sprintf("blocking graph contains a cycle among: %v", nodes),
		Nodes:   nodes,
	}
}

// CodeOf extracts the Code from err, or empty string for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether the first coded error in err's chain (the one
// CodeOf returns) carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Process exit codes, per the CLI contract.
const (
	ExitOK             = 0
	ExitUserError      = 1
	ExitEngineError    = 2
	ExitSchemaMismatch = 3
)

// ExitCode maps an error to the process exit code the CLI must use.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case "":
		return ExitEngineError
	case CodeSchemaMismatch:
		return ExitSchemaMismatch
	case CodeInvalidField, CodeInvalidTransition, CodeUnknownLinkType,
		CodeSelfLink, CodeDuplicateLink, CodeIssueNotFound, CodeLinkNotFound,
		CodeCycleDetected:
		return ExitUserError
	default:
		return ExitEngineError
	}
}
