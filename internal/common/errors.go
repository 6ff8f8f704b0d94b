// Package common defines shared constants, sentinel errors and small helpers
// used across the inspector server. Callers should use errors.Is to match
// error kinds.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: malformed or missing input; nothing was changed.
	ErrValidation = errors.New("validation error")
	// ErrConflict: duplicate name, key or credential; nothing was changed.
	ErrConflict = errors.New("conflict")
	// ErrNotFound: unknown id or an id owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrDependency: the blob store or the inference provider failed.
	ErrDependency = errors.New("dependency error")
	// ErrPersistence: the record store failed after remote side effects.
	ErrPersistence = errors.New("persistence error")
	// ErrEmptyDetection: the provider ran but returned no detections.
	ErrEmptyDetection = errors.New("empty detection")
	// ErrUnauthorized: missing, invalid or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// Error is a classified failure. Kind is one of the sentinels above and is
// what errors.Is matches against; Status keeps the upstream HTTP status of a
// dependency failure (0 when there is none).
type Error struct {
	Kind    error
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (upstream status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Validation returns an ErrValidation error.
func Validation(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

// Conflict returns an ErrConflict error with optional details (e.g. the url
// of the record that already exists).
func Conflict(msg string, details map[string]any) error {
	return &Error{Kind: ErrConflict, Message: msg, Details: details}
}

// NotFound returns an ErrNotFound error.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// Dependency wraps a failed call to an external collaborator, preserving
// the upstream status when there is one.
func Dependency(msg string, status int, err error) error {
	return &Error{Kind: ErrDependency, Message: msg, Status: status, Err: err}
}

// Persistence wraps a record store failure.
func Persistence(msg string, err error) error {
	return &Error{Kind: ErrPersistence, Message: msg, Err: err}
}

// EmptyDetection reports a provider run without detections.
func EmptyDetection(msg string) error {
	return &Error{Kind: ErrEmptyDetection, Message: msg}
}

// Unauthorized returns an ErrUnauthorized error.
func Unauthorized(msg string) error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

// AsError extracts the classified error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
