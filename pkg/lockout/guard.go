package lockout

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const shardCount = 32

// Config controls the lockout state machine.
type Config struct {
	// Threshold is the failure count at which an account locks
	Threshold int
	// BaseWindow is the lockout duration at exactly Threshold failures
	BaseWindow time.Duration
	// MaxWindow caps the exponential backoff so accounts self-heal
	MaxWindow time.Duration
	// RetainFor is how long cleared records linger before the sweeper drops them
	RetainFor time.Duration
}

// DefaultConfig returns production lockout settings
func DefaultConfig() Config {
	return Config{
		Threshold:  5,
		BaseWindow: 1 * time.Minute,
		MaxWindow:  1 * time.Hour,
		RetainFor:  24 * time.Hour,
	}
}

// Record tracks failures for one account key.
type Record struct {
	AccountKey     string    `json:"account_key"`
	FailedAttempts int       `json:"failed_attempts"`
	UnlockAt       time.Time `json:"unlock_at"`
	LastFailure    time.Time `json:"last_failure"`
}

// Locked reports whether the record is inside its lockout window at now.
func (r *Record) Locked(now time.Time) bool {
	return now.Before(r.UnlockAt)
}

// Status is the answer to a lockout check.
type Status struct {
	Locked     bool
	RetryAfter time.Duration
}

// Guard tracks per-account failure counters and computes lockout windows
// with exponential backoff. Counters are sharded by account-key hash so a
// burst of concurrent failures for unrelated accounts never serializes, and
// increment-and-check for one account is atomic under its shard lock.
type Guard struct {
	config Config
	now    func() time.Time
	shards [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewGuard creates a lockout guard.
func NewGuard(config Config) *Guard {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.BaseWindow <= 0 {
		config.BaseWindow = DefaultConfig().BaseWindow
	}
	if config.MaxWindow <= 0 {
		config.MaxWindow = DefaultConfig().MaxWindow
	}
	if config.RetainFor <= 0 {
		config.RetainFor = DefaultConfig().RetainFor
	}

	g := &Guard{
		config: config,
		now:    time.Now,
	}
	for i := range g.shards {
		g.shards[i] = &shard{records: make(map[string]*Record)}
	}
	return g
}

// SetClock overrides the time source. Only intended for test use.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// Threshold returns the failure count at which an account locks.
func (g *Guard) Threshold() int {
	return g.config.Threshold
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (g *Guard) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return g.shards[h.Sum32()%shardCount]
}

// CheckLocked reports whether the account is inside a lockout window.
func (g *Guard) CheckLocked(accountKey string) Status {
	key := normalizeKey(accountKey)
	if key == "" {
		return Status{}
	}

	s := g.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Status{}
	}

	now := g.now()
	if rec.Locked(now) {
		return Status{Locked: true, RetryAfter: rec.UnlockAt.Sub(now)}
	}
	return Status{}
}

// RecordFailure increments the account's failure counter and, once the
// threshold is reached, extends the lockout window exponentially:
// min(base * 2^(failures-threshold), cap). UnlockAt never moves backwards
// within an episode.
func (g *Guard) RecordFailure(accountKey string) Record {
	key := normalizeKey(accountKey)
	if key == "" {
		return Record{}
	}

	s := g.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := g.now()
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{AccountKey: key}
		s.records[key] = rec
	}

	rec.FailedAttempts++
	rec.LastFailure = now

	if rec.FailedAttempts >= g.config.Threshold {
		window := g.backoff(rec.FailedAttempts)
		unlockAt := now.Add(window)
		// Monotonic within the episode: a racing failure never shortens an
		// already-computed window
		if unlockAt.After(rec.UnlockAt) {
			rec.UnlockAt = unlockAt
		}
	}

	return *rec
}

// RecordSuccess clears the account's counters, but only once the lockout
// window has passed. A success inside the window leaves the record intact so
// the lockout cannot be bypassed by a timing race.
func (g *Guard) RecordSuccess(accountKey string) {
	key := normalizeKey(accountKey)
	if key == "" {
		return
	}

	s := g.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return
	}
	if rec.Locked(g.now()) {
		return
	}
	delete(s.records, key)
}

// LockedCount returns the number of accounts currently locked.
func (g *Guard) LockedCount() int {
	now := g.now()
	count := 0
	for _, s := range g.shards {
		s.mu.Lock()
		for _, rec := range s.records {
			if rec.Locked(now) {
				count++
			}
		}
		s.mu.Unlock()
	}
	return count
}

// SweepExpired removes records whose window has passed and whose last
// failure is older than the retention period. Each shard lock is held only
// while that shard is scanned.
func (g *Guard) SweepExpired() int {
	now := g.now()
	removed := 0
	for _, s := range g.shards {
		s.mu.Lock()
		for key, rec := range s.records {
			if rec.Locked(now) {
				continue
			}
			if now.Sub(rec.LastFailure) >= g.config.RetainFor {
				delete(s.records, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// backoff computes the lockout window for a failure count at or past the
// threshold.
func (g *Guard) backoff(failures int) time.Duration {
	exp := failures - g.config.Threshold
	window := g.config.BaseWindow
	for i := 0; i < exp; i++ {
		window *= 2
		if window >= g.config.MaxWindow {
			return g.config.MaxWindow
		}
	}
	if window > g.config.MaxWindow {
		return g.config.MaxWindow
	}
	return window
}
