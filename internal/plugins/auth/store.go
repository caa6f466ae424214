package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes for session data and pending logins.
const (
	sessionKeyPrefix = "session:"
	loginKeyPrefix   = "login:"
)

// sessionTokenBytes is the number of random bytes in a session or login
// token. 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// SessionStore keeps authenticated sessions and pending login contexts.
// Lookups of missing keys return (nil, nil).
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session, ttl time.Duration) (string, error)
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error

	SaveLoginContext(ctx context.Context, token string, lc *LoginContext, ttl time.Duration) error
	GetLoginContext(ctx context.Context, token string) (*LoginContext, error)
	DeleteLoginContext(ctx context.Context, token string) error
}

type redisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a SessionStore backed by Redis.
func NewRedisStore(rdb *redis.Client) SessionStore {
	return &redisStore{redis: rdb}
}

// CreateSession stores the session under a freshly generated token.
func (s *redisStore) CreateSession(ctx context.Context, session *Session, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	if err := s.put(ctx, sessionKeyPrefix+token, session, ttl); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return token, nil
}

func (s *redisStore) GetSession(ctx context.Context, token string) (*Session, error) {
	var session Session
	found, err := s.get(ctx, sessionKeyPrefix+token, &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

func (s *redisStore) DeleteSession(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session from Redis: %w", err)
	}
	return nil
}

func (s *redisStore) SaveLoginContext(ctx context.Context, token string, lc *LoginContext, ttl time.Duration) error {
	if err := s.put(ctx, loginKeyPrefix+token, lc, ttl); err != nil {
		return fmt.Errorf("storing login context: %w", err)
	}
	return nil
}

func (s *redisStore) GetLoginContext(ctx context.Context, token string) (*LoginContext, error) {
	var lc LoginContext
	found, err := s.get(ctx, loginKeyPrefix+token, &lc)
	if err != nil || !found {
		return nil, err
	}
	return &lc, nil
}

func (s *redisStore) DeleteLoginContext(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, loginKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting login context from Redis: %w", err)
	}
	return nil
}

func (s *redisStore) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *redisStore) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading from Redis: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshaling stored value: %w", err)
	}
	return true, nil
}

// newToken creates a cryptographically random hex-encoded token.
func newToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
