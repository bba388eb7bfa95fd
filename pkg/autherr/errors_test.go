package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidation("code", "required"), http.StatusBadRequest},
		{"authentication", &AuthenticationError{Reason: "bad assertion"}, http.StatusUnauthorized},
		{"locked", &AccountLockedError{AccountKey: "a@b.c", RetryAfter: time.Minute}, http.StatusLocked},
		{"session not found", &SessionNotFoundError{SessionID: "s1"}, http.StatusUnauthorized},
		{"session expired", &SessionExpiredError{SessionID: "s1"}, http.StatusUnauthorized},
		{"authorization", &AuthorizationError{Role: "patient", Required: "billing:write"}, http.StatusForbidden},
		{"configuration", NewConfiguration("rbac", errors.New("bad yaml")), http.StatusInternalServerError},
		{"transient", &TransientError{Op: "oauth2 exchange", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestHTTPStatusWrapped(t *testing.T) {
	err := fmt.Errorf("callback: %w", &AccountLockedError{AccountKey: "a@b.c"})
	assert.Equal(t, http.StatusLocked, HTTPStatus(err))

	err = fmt.Errorf("start: %w", &TransientError{Op: "idp", Err: errors.New("dial")})
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	assert.True(t, IsTransient(err))
}

func TestUserMessageNeverLeaksReason(t *testing.T) {
	authErr := &AuthenticationError{Reason: "user bob@example.com does not exist"}
	lockErr := &AccountLockedError{AccountKey: "bob@example.com", RetryAfter: 4 * time.Minute}

	assert.Equal(t, GenericAuthFailure, UserMessage(authErr))
	assert.Equal(t, GenericAuthFailure, UserMessage(lockErr))
	assert.Equal(t, UserMessage(authErr), UserMessage(lockErr))
	assert.NotContains(t, UserMessage(authErr), "bob@example.com")
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	var te *TransientError
	err := fmt.Errorf("provider: %w", &TransientError{Op: "exchange", Err: inner})
	assert.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, inner)

	var ce *ConfigurationError
	err = NewConfiguration("token", inner)
	assert.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, inner)
}
