package collab

import (
	"errors"
	"fmt"
)

// Code is the machine-readable failure category sent to clients in error events.
type Code string

// Wire error codes.
const (
	CodeAuthFailed         Code = "AUTH_FAILED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAccessDenied       Code = "ACCESS_DENIED"
	CodeNotInRoom          Code = "NOT_IN_ROOM"
	CodeUpdateFailed       Code = "UPDATE_FAILED"
	CodeServerError        Code = "SERVER_ERROR"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
)

var (
	// ErrAuthFailed indicates that a credential did not resolve to an identity.
	ErrAuthFailed = errors.New("collab: authentication failed")
	// ErrRoomClosed indicates that a room was evicted while a caller still held it.
	ErrRoomClosed = errors.New("collab: room closed")
	errNotJoined  = errors.New("collab: connection has not joined a room")
)

// Error is a failure with a wire code and a client-facing message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf returns the wire code carried by err, or CodeServerError.
func CodeOf(err error) Code {
	var collabErr *Error
	if errors.As(err, &collabErr) {
		return collabErr.Code
	}
	return CodeServerError
}

// messageOf returns the client-facing message carried by err.
func messageOf(err error) string {
	var collabErr *Error
	if errors.As(err, &collabErr) {
		return collabErr.Message
	}
	return "Internal server error"
}
