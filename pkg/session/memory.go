package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrNotFound is returned by Store.Get when no session exists for the ID.
var ErrNotFound = errors.New("session not found")

const shardCount = 32

// MemoryStore is a sharded in-memory session store. Sessions are sharded by
// ID hash so validations of unrelated users never contend on one lock.
type MemoryStore struct {
	shards [shardCount]*memoryShard
}

type memoryShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	st := &MemoryStore{}
	for i := range st.shards {
		st.shards[i] = &memoryShard{sessions: make(map[string]*Session)}
	}
	return st
}

func (st *MemoryStore) shardFor(id string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return st.shards[h.Sum32()%shardCount]
}

// Put stores or replaces a session.
func (st *MemoryStore) Put(ctx context.Context, s *Session) error {
	sh := st.shardFor(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[s.ID] = s.clone()
	return nil
}

// Get returns a copy of the session or ErrNotFound.
func (st *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	sh := st.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

// Delete removes a session.
func (st *MemoryStore) Delete(ctx context.Context, id string) error {
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, id)
	return nil
}

// DeleteByUser removes all sessions for userID across shards.
func (st *MemoryStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	removed := 0
	for _, sh := range st.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if s.UserID == userID {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// SweepExpired removes expired sessions. Each shard lock is held only while
// that shard is scanned, so active validations on other shards proceed.
func (st *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range st.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if s.Expired(now) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Count returns the number of stored sessions.
func (st *MemoryStore) Count(ctx context.Context) (int, error) {
	count := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		count += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return count, nil
}

// Close is a no-op for the in-memory store.
func (st *MemoryStore) Close() error {
	return nil
}
