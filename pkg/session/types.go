package session

import (
	"context"
	"time"
)

// Session is the authoritative record of one signed-in principal on one
// device. Exactly one copy exists per ID; only the Manager mutates it.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Provider     string            `json:"provider"`
	Protocol     string            `json:"protocol"`
	Role         string            `json:"role"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	LastActivity time.Time         `json:"last_activity"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the session's expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// clone copies the session so callers never hold a pointer into the store.
func (s *Session) clone() *Session {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Store is the persistence seam for sessions. Implementations must support
// concurrent readers and writers without a single global lock.
type Store interface {
	// Put stores or replaces a session
	Put(ctx context.Context, s *Session) error

	// Get returns the session or ErrNotFound
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session; deleting an absent session is not an error
	Delete(ctx context.Context, id string) error

	// DeleteByUser removes every session belonging to userID and returns
	// how many were removed
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// SweepExpired removes sessions whose expiry has passed and returns how
	// many were removed
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of stored sessions
	Count(ctx context.Context) (int, error)

	// Close releases store resources
	Close() error
}
