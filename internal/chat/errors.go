package chat

import (
	"errors"
	"fmt"
)

// Error is a coded domain error. The Message is safe to show to the
// requester; Cause carries the internal detail and is never sent out.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so wrapped copies compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Cause: cause}
}

// WithMessage returns a copy of e with a different public message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Cause: e.Cause}
}

const (
	CodeValidation   = "CHAT-VAL-400"
	CodeUnauthorized = "CHAT-AUTH-401"
	CodeForbidden    = "CHAT-ACL-403"
	CodeNotFound     = "CHAT-NF-404"
	CodeRateLimited  = "CHAT-RATE-429"
	CodeUnavailable  = "CHAT-STORE-503"
)

var (
	ErrInvalidRequest   = &Error{Code: CodeValidation, Message: "Invalid request"}
	ErrUnauthorized     = &Error{Code: CodeUnauthorized, Message: "Unauthorized"}
	ErrSessionNotFound  = &Error{Code: CodeUnauthorized, Message: "Session not found"}
	ErrRoomAccessDenied = &Error{Code: CodeForbidden, Message: "Room access denied"}
	ErrFileAccessDenied = &Error{Code: CodeForbidden, Message: "File access denied"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "Not found"}
	ErrRoomNotFound     = &Error{Code: CodeNotFound, Message: "Invalid room"}
	ErrUserNotFound     = &Error{Code: CodeNotFound, Message: "User not found"}
	ErrFileNotFound     = &Error{Code: CodeNotFound, Message: "File not found"}
	ErrRateLimited      = &Error{Code: CodeRateLimited, Message: "Too many requests"}
	ErrStoreUnavailable = &Error{Code: CodeUnavailable, Message: "Service temporarily unavailable"}
)

// PublicMessage returns the text a requester may see for err. Errors that
// are not coded collapse to a generic message so internals never leak.
func PublicMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "Internal error"
}

// Code extracts the domain code from err, or "" when err is not coded.
func Code(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
