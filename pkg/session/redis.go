package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "authcore:session:"
	userSetKeyPrefix = "authcore:user-sessions:"
)

// RedisStore keeps sessions in Redis so multiple engine instances share one
// authoritative store. Expiry is enforced both by value TTL and by the
// expiry check in the Manager; the user set exists for bulk revocation.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB >= 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSetKey(userID string) string {
	return userSetKeyPrefix + userID
}

// Put stores the session with a TTL matching its expiry and indexes it under
// its user's session set. The set carries no TTL of its own: a short-lived
// session must never shorten the index for the user's longer-lived sessions,
// or DeleteByUser would miss them. Stale IDs and emptied sets are pruned by
// SweepExpired instead.
func (st *RedisStore) Put(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	pipe := st.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), payload, ttl)
	pipe.SAdd(ctx, userSetKey(s.UserID), s.ID)
	pipe.Persist(ctx, userSetKey(s.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the session or ErrNotFound.
func (st *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := st.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Delete removes the session and its user-set entry.
func (st *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := st.Get(ctx, id)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := st.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSetKey(s.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes every session in the user's session set.
func (st *RedisStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	ids, err := st.client.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	removed := 0
	for _, id := range ids {
		n, err := st.client.Del(ctx, sessionKey(id)).Result()
		if err != nil {
			return removed, fmt.Errorf("delete session %s: %w", id, err)
		}
		removed += int(n)
	}
	if err := st.client.Del(ctx, userSetKey(userID)).Err(); err != nil {
		return removed, fmt.Errorf("clear user session set: %w", err)
	}
	return removed, nil
}

// SweepExpired is delegated to Redis TTLs for the session values; it prunes
// stale IDs from the persistent user sets and drops sets left empty.
func (st *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var cursor uint64
	pruned := 0
	for {
		keys, next, err := st.client.Scan(ctx, cursor, userSetKeyPrefix+"*", 100).Result()
		if err != nil {
			return pruned, fmt.Errorf("scan user sets: %w", err)
		}
		for _, setKey := range keys {
			ids, err := st.client.SMembers(ctx, setKey).Result()
			if err != nil {
				continue
			}
			for _, id := range ids {
				exists, err := st.client.Exists(ctx, sessionKey(id)).Result()
				if err == nil && exists == 0 {
					st.client.SRem(ctx, setKey, id)
					pruned++
				}
			}
			if remaining, err := st.client.SCard(ctx, setKey).Result(); err == nil && remaining == 0 {
				st.client.Del(ctx, setKey)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return pruned, nil
}

// Count returns the number of live session keys.
func (st *RedisStore) Count(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := st.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan sessions: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// Close closes the Redis client.
func (st *RedisStore) Close() error {
	return st.client.Close()
}
