package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/session"
)

// Config holds token signing settings.
type Config struct {
	// Secret is the HMAC signing key
	Secret []byte
	// Issuer is the iss claim
	Issuer string
	// Audience is the aud claim
	Audience string
}

// Claims are the scoped claims carried by an issued bearer token.
type Claims struct {
	SessionID string   `json:"sid"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	jwt.RegisteredClaims
}

// IssuedToken pairs the signed compact form with its decoded claims.
type IssuedToken struct {
	Raw       string    `json:"token"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScopeTable derives token scopes deterministically from a role.
type ScopeTable interface {
	EffectiveScopes(role string) []string
}

// Issuer signs bearer tokens for validated sessions. Verification is pure;
// authorization decisions must pair it with a live session lookup because a
// revoked session invalidates its tokens before their exp passes.
type Issuer struct {
	config Config
	scopes ScopeTable
	now    func() time.Time
}

// NewIssuer creates a token issuer. Missing signing material is a
// ConfigurationError.
func NewIssuer(config Config, scopes ScopeTable) (*Issuer, error) {
	if len(config.Secret) == 0 {
		return nil, autherr.NewConfiguration("token", fmt.Errorf("signing secret is required"))
	}
	if config.Issuer == "" {
		return nil, autherr.NewConfiguration("token", fmt.Errorf("issuer is required"))
	}
	if config.Audience == "" {
		return nil, autherr.NewConfiguration("token", fmt.Errorf("audience is required"))
	}
	return &Issuer{
		config: config,
		scopes: scopes,
		now:    time.Now,
	}, nil
}

// SetClock overrides the time source. Only intended for test use.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// Issue signs a token for the session. The token's exp always equals the
// session's expiry so a token can never outlive its backing session.
func (i *Issuer) Issue(s *session.Session, role string) (*IssuedToken, error) {
	if s == nil {
		return nil, autherr.NewValidation("session", "required")
	}

	now := i.now().UTC()
	scopes := i.scopes.EffectiveScopes(role)
	claims := Claims{
		SessionID: s.ID,
		Role:      role,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.config.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &IssuedToken{
		Raw:       signed,
		SessionID: s.ID,
		UserID:    s.UserID,
		Role:      role,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// Verify checks the token's signature, algorithm, issuer, audience, and time
// claims. It has no side effects and does not consult the session store; the
// caller must validate the referenced session separately.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, &autherr.AuthenticationError{Reason: "empty token"}
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.config.Secret, nil
	},
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithAudience(i.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil {
		return nil, &autherr.AuthenticationError{Reason: "token validation failed", Err: err}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &autherr.AuthenticationError{Reason: "token claims invalid"}
	}
	if claims.SessionID == "" {
		return nil, &autherr.AuthenticationError{Reason: "token carries no session"}
	}
	if claims.Subject == "" {
		return nil, &autherr.AuthenticationError{Reason: "token carries no subject"}
	}
	return claims, nil
}
