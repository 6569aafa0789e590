package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the closed set of error classes exposed to callers
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindBusinessRule   Kind = "business_rule"
	KindConflict       Kind = "conflict"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"

	// Not a member of the taxonomy: anything unexpected ends up here
	kindInternal Kind = "internal"
)

var kindPrefix = map[Kind]string{
	KindNotFound:       "NF",
	KindValidation:     "VAL",
	KindBusinessRule:   "BR",
	KindConflict:       "CONF",
	KindAuthentication: "AUTH",
	KindAuthorization:  "AUTHZ",
	kindInternal:       "INTERNAL",
}

var kindStatus = map[Kind]int{
	KindNotFound:       http.StatusNotFound,
	KindValidation:     http.StatusBadRequest,
	KindBusinessRule:   http.StatusUnprocessableEntity,
	KindConflict:       http.StatusConflict,
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
}

// StatusFor maps kind to transport status
// Unknown kinds fail safe to 500
func StatusFor(kind Kind) int {
	status, ok := kindStatus[kind]
	if !ok {
		return http.StatusInternalServerError
	}
	return status
}

// DomainError is the only error type allowed to leave the service layer.
// Details must never carry secrets.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any

	// Internal reason. Logged by audit hooks, never rendered
	cause error
}

// New builds error with code in form {PREFIX}_{SUBJECT}_{SEQ}, e.g. NF_PROGRAM_001
func New(kind Kind, subject string, seq int, message string) *DomainError {
	prefix, ok := kindPrefix[kind]
	if !ok {
		prefix = kindPrefix[kindInternal]
	}

	return &DomainError{
		Kind:    kind,
		Code:    fmt.Sprintf("%s_%s_%03d", prefix, strings.ToUpper(subject), seq),
		Message: message,
		Details: map[string]any{},
	}
}

func NotFound(subject string, message string) *DomainError {
	return New(KindNotFound, subject, 1, message)
}

func Validation(subject string, seq int, message string) *DomainError {
	return New(KindValidation, subject, seq, message)
}

func BusinessRule(subject string, message string) *DomainError {
	return New(KindBusinessRule, subject, 1, message)
}

func Conflict(subject string, message string) *DomainError {
	return New(KindConflict, subject, 1, message)
}

func Forbidden(subject string, message string) *DomainError {
	return New(KindAuthorization, subject, 1, message)
}

// Unauthenticated returns the single authentication error every auth path reports.
// Code and message are identical whatever the cause is, so callers can't probe
// signature, expiry or revocation state.
func Unauthenticated(cause error) *DomainError {
	e := New(KindAuthentication, "credentials", 1, "Invalid or expired credentials")
	e.cause = cause
	return e
}

// Internal is the generic fail-safe error
func Internal(cause error) *DomainError {
	e := New(kindInternal, "server", 1, "Internal server error")
	e.cause = cause
	return e
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// Status returns transport status for the error kind
func (e *DomainError) Status() int {
	return StatusFor(e.Kind)
}

// WithCause returns copy of the error with internal cause attached
func (e *DomainError) WithCause(cause error) *DomainError {
	c := *e
	c.cause = cause
	return &c
}

// WithDetail returns copy of the error with one more detail
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	c := *e
	c.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// FromError classifies any error into DomainError
func FromError(err error) *DomainError {
	if err == nil {
		return nil
	}

	var de *DomainError
	if errors.As(err, &de) {
		return de
	}

	switch {
	case errors.Is(err, ErrUserAlreadyExists):
		return Conflict("user", "User already exists").WithCause(err)
	case errors.Is(err, ErrPermissionDenied):
		return Forbidden("access", "Permission denied").WithCause(err)
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrAccessTokenInvalid),
		errors.Is(err, ErrRefreshTokenNotFound),
		errors.Is(err, ErrRefreshTokenRevoked),
		errors.Is(err, ErrRefreshTokenExpired),
		errors.Is(err, ErrRefreshTokenMismatched):
		return Unauthenticated(err)
	default:
		return Internal(err)
	}
}
