// Package httpapi is the HTTP boundary. Handlers translate requests into
// orchestrator calls and orchestrator errors into status codes; no
// authentication logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/observability"
	"github.com/webqx-health/authcore/pkg/orchestrator"
	"github.com/webqx-health/authcore/pkg/provider"
)

// SessionCookie carries the bearer token for browser clients.
const SessionCookie = "authcore_session"

// Server exposes the authentication API.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *observability.Logger
}

// NewServer creates the API server.
func NewServer(orch *orchestrator.Orchestrator, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Server{orch: orch, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.HandleFunc("/auth/saml/{provider}/metadata", s.handleSAMLMetadata).Methods(http.MethodGet)
	r.HandleFunc("/auth/{provider}/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/auth/{provider}/callback", s.handleCallback).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/auth/renew", s.handleRenew).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	return r
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = observability.WithLogger(ctx, s.logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type startRequest struct {
	ReturnTo    string `json:"return_to,omitempty"`
	AccountHint string `json:"account_hint,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, autherr.NewValidation("body", "malformed JSON"))
			return
		}
	}

	start, err := s.orch.StartFlow(r.Context(), providerName, provider.StartOptions{
		ReturnTo:    req.ReturnTo,
		AccountHint: req.AccountHint,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, start)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	payload, err := callbackPayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.orch.CompleteFlow(r.Context(), providerName, payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    result.Token.Raw,
		Path:     "/",
		Expires:  result.Token.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	s.writeJSON(w, http.StatusOK, result)
}

// callbackPayload pulls the protocol parameters from the query string (GET,
// OAuth2 redirect binding) or the form body (POST, SAML post binding).
func callbackPayload(r *http.Request) (provider.CallbackPayload, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return provider.CallbackPayload{}, autherr.NewValidation("body", "malformed form")
		}
	}
	values := r.URL.Query()
	get := func(key string) string {
		if r.Method == http.MethodPost {
			if v := r.PostFormValue(key); v != "" {
				return v
			}
		}
		return values.Get(key)
	}

	return provider.CallbackPayload{
		Code:             get("code"),
		State:            get("state"),
		Error:            get("error"),
		ErrorDescription: get("error_description"),
		SAMLResponse:     get("SAMLResponse"),
		RelayState:       get("RelayState"),
	}, nil
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	bearer, err := bearerToken(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	verified, err := s.orch.Verify(r.Context(), bearer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    verified.Session.UserID,
		"session_id": verified.Session.ID,
		"role":       verified.Claims.Role,
		"scopes":     verified.Claims.Scopes,
		"expires_at": verified.Session.ExpiresAt,
	})
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	bearer, err := bearerToken(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.orch.Renew(r.Context(), bearer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    result.Token.Raw,
		Path:     "/",
		Expires:  result.Token.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	s.writeJSON(w, http.StatusOK, result)
}

type logoutRequest struct {
	LogoutAllDevices bool `json:"logout_all_devices"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	bearer, err := bearerToken(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, autherr.NewValidation("body", "malformed JSON"))
			return
		}
	}

	result, err := s.orch.Logout(r.Context(), bearer, req.LogoutAllDevices)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSAMLMetadata(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	adapter, err := s.orch.Adapter(providerName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	samlAdapter, ok := adapter.(*provider.SAMLAdapter)
	if !ok {
		s.writeError(w, r, autherr.NewValidation("provider", "not a SAML provider"))
		return
	}

	metadata, err := samlAdapter.Metadata()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(metadata)
}

// bearerToken extracts the token from the Authorization header, falling
// back to the session cookie.
func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", &autherr.AuthenticationError{Reason: "malformed authorization header"}
		}
		return parts[1], nil
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", &autherr.AuthenticationError{Reason: "no bearer token"}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("write response")
	}
}

// writeError maps an error to its status code. Authentication failures and
// lockouts share one generic body; a lockout additionally sets Retry-After.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := autherr.HTTPStatus(err)

	var locked *autherr.AccountLockedError
	if errors.As(err, &locked) {
		seconds := int(locked.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}

	s.writeJSON(w, status, map[string]string{"error": autherr.UserMessage(err)})
}
