package provider

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webqx-health/authcore/pkg/autherr"
)

// DefaultFlowTTL bounds how long a started flow may wait for its callback.
const DefaultFlowTTL = 10 * time.Minute

// FlowRecord is the server-side state of one in-flight flow. The token is
// the OAuth2 state / SAML RelayState round-tripped through the IdP.
type FlowRecord struct {
	FlowToken   string
	Provider    string
	AccountHint string
	ReturnTo    string
	CreatedAt   time.Time
}

// FlowStore holds pending flow records. Records are single-use: Consume
// removes the record, so a replayed state or RelayState fails.
type FlowStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*FlowRecord
	now     func() time.Time
}

// NewFlowStore creates a flow store. A non-positive ttl uses DefaultFlowTTL.
func NewFlowStore(ttl time.Duration) *FlowStore {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &FlowStore{
		ttl:     ttl,
		records: make(map[string]*FlowRecord),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Only intended for test use.
func (s *FlowStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores a new flow under token. An empty token gets a fresh one.
func (s *FlowStore) Put(token, provider string, opts StartOptions) *FlowRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" {
		token = uuid.NewString()
	}
	rec := &FlowRecord{
		FlowToken:   token,
		Provider:    provider,
		AccountHint: opts.AccountHint,
		ReturnTo:    opts.ReturnTo,
		CreatedAt:   s.now().UTC(),
	}
	s.records[rec.FlowToken] = rec
	return rec
}

// Consume removes and returns the flow for the token. Unknown, expired, and
// already-consumed tokens all fail the same way so a caller cannot
// distinguish a forged state from a replayed one.
func (s *FlowStore) Consume(token string) (*FlowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return nil, &autherr.AuthenticationError{Reason: "unknown or replayed flow token"}
	}
	delete(s.records, token)

	if s.now().UTC().Sub(rec.CreatedAt) > s.ttl {
		return nil, &autherr.AuthenticationError{Reason: "flow expired"}
	}
	return rec, nil
}

// SweepExpired drops expired flows and returns how many were removed.
func (s *FlowStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	removed := 0
	for token, rec := range s.records {
		if now.Sub(rec.CreatedAt) > s.ttl {
			delete(s.records, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending flows.
func (s *FlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
