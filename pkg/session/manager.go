package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// Config controls session lifetimes.
type Config struct {
	// TTL is the session lifetime granted at creation and on renewal
	TTL time.Duration
	// IdleTimeout expires a session early when no activity is seen for this
	// long; zero disables the idle check
	IdleTimeout time.Duration
}

// DefaultConfig returns production session settings.
func DefaultConfig() Config {
	return Config{
		TTL:         8 * time.Hour,
		IdleTimeout: 30 * time.Minute,
	}
}

// NewSessionParams describes the principal a new session is created for.
type NewSessionParams struct {
	UserID   string
	Provider string
	Protocol string
	Role     string
	Metadata map[string]string
}

// Manager owns the authoritative session store: it creates, validates,
// renews, and revokes sessions, and enforces expiry and idle windows.
type Manager struct {
	store  Store
	config Config
	now    func() time.Time
}

// NewManager creates a session manager over a store.
func NewManager(store Store, config Config) *Manager {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	return &Manager{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Only intended for test use.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create issues a new session for the principal.
func (m *Manager) Create(ctx context.Context, params NewSessionParams) (*Session, error) {
	if params.UserID == "" {
		return nil, autherr.NewValidation("user_id", "required")
	}
	if params.Role == "" {
		return nil, autherr.NewValidation("role", "required")
	}

	now := m.now().UTC()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       params.UserID,
		Provider:     params.Provider,
		Protocol:     params.Protocol,
		Role:         params.Role,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.config.TTL),
		LastActivity: now,
		Metadata:     params.Metadata,
	}

	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Validate checks the session is live and updates its LastActivity. This
// sliding-window touch is the only mutation path outside create, renew, and
// revoke.
func (m *Manager) Validate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, &autherr.SessionNotFoundError{SessionID: id}
	}

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &autherr.SessionNotFoundError{SessionID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}

	now := m.now().UTC()
	if s.Expired(now) {
		// Expired sessions are removed lazily here and by the sweeper
		_ = m.store.Delete(ctx, id)
		return nil, &autherr.SessionExpiredError{SessionID: id, ExpiredAt: s.ExpiresAt}
	}
	if m.config.IdleTimeout > 0 && now.Sub(s.LastActivity) >= m.config.IdleTimeout {
		_ = m.store.Delete(ctx, id)
		return nil, &autherr.SessionExpiredError{SessionID: id, ExpiredAt: s.LastActivity.Add(m.config.IdleTimeout)}
	}

	s.LastActivity = now
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

// Renew extends a live session's expiry by the configured TTL.
func (m *Manager) Renew(ctx context.Context, id string) (*Session, error) {
	s, err := m.Validate(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s.ExpiresAt = now.Add(m.config.TTL)
	s.LastActivity = now
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("renew session: %w", err)
	}
	return s, nil
}

// Revoke destroys the session immediately. Tokens referencing it fail
// verification on the next validate, regardless of their own expiry.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser destroys every session belonging to userID ("logout all
// devices") and returns how many were revoked.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := m.store.DeleteByUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("revoke user sessions: %w", err)
	}
	return n, nil
}

// SweepExpired removes expired sessions from the store.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.SweepExpired(ctx, m.now().UTC())
}

// Count returns the number of stored sessions.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}
