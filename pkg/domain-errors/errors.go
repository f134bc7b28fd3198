// Package domainerrors carries the error taxonomy that crosses service
// boundaries. Every failure surfaced to a caller has exactly one Code, and the
// transport layer maps codes to responses without inspecting messages.
//
// Stores return infrastructure facts (see pkg/platform/sentinel); services
// translate those facts into a coded error here.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is the stable, machine-readable kind of a domain error.
type Code string

const (
	// CodeAlreadyInitialized reports a second attempt to create the program singleton.
	CodeAlreadyInitialized Code = "already_initialized"
	// CodeProgramPaused reports a mutating operation submitted while the program is paused.
	CodeProgramPaused Code = "program_paused"
	// CodeUnauthorized reports a role or ownership failure.
	CodeUnauthorized Code = "unauthorized"
	// CodeInvalidData reports a field outside its declared range or enum.
	CodeInvalidData Code = "invalid_data"
	// CodeInvalidState reports an operation that is not legal for the record's current status.
	CodeInvalidState Code = "invalid_state"
	// CodeNoEligibleRecipient reports an empty candidate set after scoring.
	CodeNoEligibleRecipient Code = "no_eligible_recipient"
	// CodeNotFound reports a referenced record that does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict reports a commit that lost an optimistic race; the caller may resubmit.
	CodeConflict Code = "conflict"
	// CodeBadRequest reports a malformed transport input (unparseable body or path).
	CodeBadRequest Code = "bad_request"
	// CodeTimeout reports an operation abandoned because its context ended.
	CodeTimeout Code = "timeout"
	// CodeInternal reports a backend failure. Details are never shown to callers.
	CodeInternal Code = "internal_error"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to a cause. A nil cause yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal for
// uncoded errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call sites that read better as a question.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// MessageOf returns the caller-facing message of the outermost coded error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
