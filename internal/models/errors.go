package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures for the containers that surface them.
type ErrorKind string

const (
	// KindAuth is terminal for the session and triggers logout.
	KindAuth ErrorKind = "auth"
	// KindValidation is recoverable; Fields carries per-field messages.
	KindValidation ErrorKind = "validation"
	// KindForbidden is a permission refusal for an otherwise valid request.
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound is terminal for the view that requested the resource.
	KindNotFound ErrorKind = "not_found"
	// KindTransient covers network failures and 5xx responses. Never retried.
	KindTransient ErrorKind = "transient"
	// KindMalformed marks an undecodable push frame or response body.
	KindMalformed ErrorKind = "malformed"
)

// AppError is the single error type produced by the gateway and containers.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Status  int
	Fields  map[string][]string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAuthError builds an authentication failure.
func NewAuthError(message string) *AppError {
	return &AppError{Kind: KindAuth, Code: "UNAUTHORIZED", Message: message, Status: 401}
}

// NewValidationError builds a validation failure with optional field messages.
func NewValidationError(message string, fields map[string][]string) *AppError {
	return &AppError{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message, Status: 400, Fields: fields}
}

// NewForbiddenError builds a permission refusal.
func NewForbiddenError(message string) *AppError {
	return &AppError{Kind: KindForbidden, Code: "FORBIDDEN", Message: message, Status: 403}
}

// NewNotFoundError builds a not-found failure for the named resource.
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %v not found", resource, id),
		Status:  404,
	}
}

// NewTransientError wraps a network or server failure.
func NewTransientError(status int, err error) *AppError {
	return &AppError{Kind: KindTransient, Code: "TRANSIENT", Message: "Something went wrong. Please try again.", Status: status, Err: err}
}

// NewMalformedError wraps a decode failure.
func NewMalformedError(message string, err error) *AppError {
	return &AppError{Kind: KindMalformed, Code: "MALFORMED", Message: message, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an AppError.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient reports whether err is a network or server failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsMalformed reports whether err is a decode failure.
func IsMalformed(err error) bool { return KindOf(err) == KindMalformed }

// UserMessage renders err as the message a container stores for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if appErr.Kind != KindValidation || len(appErr.Fields) == 0 {
		return appErr.Message
	}
	keys := make([]string, 0, len(appErr.Fields))
	for k := range appErr.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		msg := strings.Join(appErr.Fields[k], " ")
		if k == "non_field_errors" || k == "detail" {
			parts = append(parts, msg)
			continue
		}
		parts = append(parts, k+": "+msg)
	}
	return strings.Join(parts, "; ")
}

var (
	// ErrNoCredential is returned when an operation needs a session token and none is held.
	ErrNoCredential = errors.New("no session credential")
	// ErrBusy is returned when the same operation is already in flight for a key.
	ErrBusy = errors.New("operation already in progress")
)
