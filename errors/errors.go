// Package errors provides flowbase's structured error type and the
// stack-capturing helpers used at nearly every fallible call site, the
// way the teacher's errors package wraps github.com/pingcap/errors.
package errors

import (
	"fmt"

	pingerrors "github.com/pingcap/errors"
)

// ErrorCode distinguishes the error-kind taxonomy of spec.md §7.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeSchema
	CodeMigration
	CodeTransientChannel
	CodeFatalDomain
	CodeClient
	CodeInternal
)

// FlowError is returned to callers verbatim for schema/migration/client
// errors (spec.md §7), and carries a Sequence for internal errors so the
// server-side log entry can be found from the message shown to the
// caller, mirroring the teacher's errors.PranaError / NewInternalError.
type FlowError struct {
	Code     ErrorCode
	Msg      string
	Sequence int64
}

func (e *FlowError) Error() string {
	if e.Sequence != 0 {
		return fmt.Sprintf("FB%04d - %s", e.Sequence, e.Msg)
	}
	return e.Msg
}

func NewSchemaError(msg string) *FlowError {
	return &FlowError{Code: CodeSchema, Msg: msg}
}

func NewMigrationError(msg string) *FlowError {
	return &FlowError{Code: CodeMigration, Msg: msg}
}

func NewClientError(msg string) *FlowError {
	return &FlowError{Code: CodeClient, Msg: msg}
}

func NewUnknownSessionIDError(sessionID string) *FlowError {
	return &FlowError{Code: CodeClient, Msg: fmt.Sprintf("unknown session id %s", sessionID)}
}

func NewInternalError(sequence int64) *FlowError {
	return &FlowError{Code: CodeInternal, Sequence: sequence, Msg: "internal error - see server log for detail"}
}

// PranaError-equivalent marker interface so callers (e.g. the api
// package) can distinguish flowbase errors from wrapped internal errors
// the way the teacher checks `_, ok := err.(errors.PranaError)`.
type FlowErrorLike interface {
	error
	isFlowError()
}

func (e *FlowError) isFlowError() {}

var _ FlowErrorLike = &FlowError{}

// Error constructs a plain stack-captured error, equivalent to the
// teacher's errors.Error(msg).
func Error(msg string) error {
	return pingerrors.New(msg)
}

// Errorf is the formatting equivalent of Error.
func Errorf(format string, args ...interface{}) error {
	return pingerrors.Errorf(format, args...)
}

// WithStack attaches a stack trace to err if it doesn't already carry one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return pingerrors.WithStack(err)
}

// MaybeAddStack is WithStack that tolerates a nil error, matching the
// teacher's errors.MaybeAddStack used throughout cluster/dragon/dragon.go.
func MaybeAddStack(err error) error {
	return WithStack(err)
}

// New constructs a plain error without a stack, for cases (like a schema
// rejection) where the caller-facing message is all that matters.
func New(msg string) error {
	return fmt.Errorf("%s", msg)
}
