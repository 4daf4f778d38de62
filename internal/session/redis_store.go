package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "gatekeeper:session:"
	redisPingTimeout   = 2 * time.Second
)

// RedisConfig describes how to reach the session cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient dials Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// Let per-call deadlines bound socket reads and writes.
		ContextTimeoutEnabled: true,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

// RedisStore keeps sessions as JSON values whose key TTL matches the session expiry.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	clock   func() time.Time
}

// NewRedisStore creates a Redis-backed session store. Every call is bounded by timeout.
func NewRedisStore(client *redis.Client, timeout time.Duration, clock func() time.Time) *RedisStore {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{
		client:  client,
		prefix:  defaultRedisPrefix,
		timeout: timeout,
		clock:   clock,
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Create(ctx context.Context, record Session) error {
	if record.ID == "" || record.AccountID == "" {
		return fmt.Errorf("session: missing session id or account id")
	}
	ttl := record.ExpiresAt.Sub(r.clock())
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return translateRedisError(r.client.Set(ctx, r.key(record.ID), data, ttl).Err())
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	value, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, translateRedisError(err)
	}
	var record Session
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return Session{}, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return record, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return translateRedisError(r.client.Del(ctx, r.key(sessionID)).Err())
}

func translateRedisError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", users.ErrStoreUnavailable, err)
}
