// Package autherr defines the error taxonomy shared across the
// authentication engine. Callers branch on error category with errors.As
// rather than string matching, and user-facing surfaces collapse
// authentication failures into one generic message so responses never leak
// whether an account exists or is locked for a specific reason.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GenericAuthFailure is the only message user-facing surfaces may return
// for a failed authentication attempt.
const GenericAuthFailure = "authentication failed"

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// NewValidation creates a ValidationError for the named field.
func NewValidation(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// AuthenticationError reports a failed credential or assertion check. The
// Reason is for logs and audit records only, never for responses.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AccountLockedError reports that an account is inside a lockout window.
type AccountLockedError struct {
	AccountKey string
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account %s locked, retry after %s", e.AccountKey, e.RetryAfter)
}

// SessionNotFoundError reports a session id with no live session behind it,
// whether it never existed, was revoked, or was already swept.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// SessionExpiredError reports a session rejected for age or idleness.
type SessionExpiredError struct {
	SessionID string
	ExpiredAt time.Time
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s expired at %s", e.SessionID, e.ExpiredAt.Format(time.RFC3339))
}

// AuthorizationError reports a permission or resource check failure for an
// authenticated principal.
type AuthorizationError struct {
	Role     string
	Required string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %s lacks %s", e.Role, e.Required)
}

// ConfigurationError reports invalid or missing configuration. These are
// fail-fast at startup and never surface to end users.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Component, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfiguration wraps err as a ConfigurationError for the component.
func NewConfiguration(component string, err error) *ConfigurationError {
	return &ConfigurationError{Component: component, Err: err}
}

// TransientError reports an upstream failure worth retrying, such as an
// identity provider timeout.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// LogError reports an audit sink write failure. It is recorded and
// counted but never fails the operation being audited.
type LogError struct {
	Sink string
	Err  error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("audit sink %s: %v", e.Sink, e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// HTTPStatus maps an engine error to the response status code.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ae *AuthenticationError
		le *AccountLockedError
		nf *SessionNotFoundError
		se *SessionExpiredError
		az *AuthorizationError
		ce *ConfigurationError
		te *TransientError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.As(err, &le):
		return http.StatusLocked
	case errors.As(err, &nf), errors.As(err, &se):
		return http.StatusUnauthorized
	case errors.As(err, &az):
		return http.StatusForbidden
	case errors.As(err, &ce):
		return http.StatusInternalServerError
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the body text safe to show an end user. Credential
// failures and lockouts share one message so callers cannot distinguish a
// wrong password from a locked or nonexistent account.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		ae *AuthenticationError
		le *AccountLockedError
		nf *SessionNotFoundError
		se *SessionExpiredError
		az *AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ae), errors.As(err, &le):
		return GenericAuthFailure
	case errors.As(err, &nf), errors.As(err, &se):
		return "session is not valid"
	case errors.As(err, &az):
		return "access denied"
	default:
		return "internal error"
	}
}
