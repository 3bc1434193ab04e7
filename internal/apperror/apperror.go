// Package apperror defines the closed set of error kinds the core returns.
// Callers branch on Kind or Code, never on the message text.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and transport mapping.
type Kind string

const (
	KindUnknown          Kind = ""
	KindNotAuthenticated Kind = "not_authenticated"
	KindNotFound         Kind = "not_found"
	KindInvalidOperation Kind = "invalid_operation"
	KindConflict         Kind = "conflict"
	KindTransientIO      Kind = "transient_io"
	// KindWriteFailed is a TransientIO failure that outlived the retry budget.
	KindWriteFailed      Kind = "write_failed"
)

// Code identifies the specific condition inside a Kind so a client can show
// a distinguishable message.
type Code string

const (
	CodeNoSession        Code = "no_session"
	CodeUserNotFound     Code = "user_not_found"
	CodeEdgeNotFound     Code = "edge_not_found"
	CodeProfileNotFound  Code = "profile_not_found"
	CodeContactNotFound  Code = "contact_not_found"
	CodeSelfRequest      Code = "self_request"
	CodeAlreadyFriends   Code = "already_friends"
	CodeRequestPending   Code = "request_pending"
	CodeNotRecipient     Code = "not_recipient"
	CodeInvalidFix       Code = "invalid_fix"
	CodeInvalidAppState  Code = "invalid_app_state"
	CodeInvalidInput     Code = "invalid_input"
	CodeAlreadyHandled   Code = "already_handled"
	CodeEmailTaken       Code = "email_taken"
	CodeStoreUnavailable Code = "store_unavailable"
	CodeRetriesExhausted Code = "retries_exhausted"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and, when set on target, Code. This lets
// callers write errors.Is(err, apperror.ErrAlreadyFriends).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotAuthenticated = &Error{Kind: KindNotAuthenticated}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrTransientIO      = &Error{Kind: KindTransientIO}
	ErrWriteFailed      = &Error{Kind: KindWriteFailed}

	ErrSelfRequest    = &Error{Kind: KindInvalidOperation, Code: CodeSelfRequest}
	ErrAlreadyFriends = &Error{Kind: KindInvalidOperation, Code: CodeAlreadyFriends}
	ErrRequestPending = &Error{Kind: KindInvalidOperation, Code: CodeRequestPending}
	ErrNotRecipient   = &Error{Kind: KindInvalidOperation, Code: CodeNotRecipient}
)

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code Code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func NotAuthenticated(msg string) *Error {
	return New(KindNotAuthenticated, CodeNoSession, msg)
}

func NotFound(code Code, msg string) *Error {
	return New(KindNotFound, code, msg)
}

func InvalidOperation(code Code, msg string) *Error {
	return New(KindInvalidOperation, code, msg)
}

func Conflict(code Code, msg string) *Error {
	return New(KindConflict, code, msg)
}

func TransientIO(msg string, err error) *Error {
	return Wrap(KindTransientIO, CodeStoreUnavailable, msg, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether a local retry can plausibly succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientIO
}
