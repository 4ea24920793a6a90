// Package faults defines the canonical error taxonomy for the clash-zone
// store. Fatal codes (initialization, migration) abort the calling operation;
// capability and row-write codes are absorbed by callers with a fallback path
// and a diagnostic log, never dropped silently.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Code standardizes failure semantics across the store.
type Code string

const (
	// CodeInitialization: the store file cannot be created or opened. Fatal.
	CodeInitialization Code = "initialization"
	// CodeMigration: a schema evolution step failed; the whole batch rolled back. Fatal.
	CodeMigration Code = "migration"
	// CodeCapabilityUnavailable: an optional feature (spatial index) is
	// unsupported. Non-fatal, triggers the fallback strategy.
	CodeCapabilityUnavailable Code = "capability_unavailable"
	// CodeRowWrite: a single-record failure inside a bulk operation.
	// Non-fatal, counted in the batch tally.
	CodeRowWrite Code = "row_write"
	// CodeConsistency: index/row mismatch or a malformed polymorphic
	// constituent. Triggers corrective action (rebuild or reject).
	CodeConsistency Code = "consistency"

	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
	CodeInternal   Code = "internal"
)

// Error is the canonical error wrapper carried across package boundaries.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a fault with explicit code + operation.
func New(code Code, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap tags an underlying failure with a code and operation.
func Wrap(code Code, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Op: strings.TrimSpace(op), Cause: cause}
}

// CodeOf extracts the fault code, or CodeInternal for untagged errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == code
}

// Fatal reports whether the fault must abort the calling operation.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case CodeInitialization, CodeMigration:
		return true
	default:
		return false
	}
}

// MapError translates infrastructure failures into fault codes.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Wrap(CodeNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeInternal, op, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "check constraint"):
		// A violated CHECK (the polymorphic-constituent guard) is a broken
		// invariant, not a contended row.
		return Wrap(CodeConsistency, op, err)
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "constraint failed"):
		return Wrap(CodeRowWrite, op, err)
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"):
		return Wrap(CodeMigration, op, err)
	default:
		return Wrap(CodeInternal, op, err)
	}
}
