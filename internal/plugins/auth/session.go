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

// sessionKeyPrefix is the Redis key prefix for session data.
const sessionKeyPrefix = "session:"

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// ErrSessionNotFound is returned when a token maps to no live session,
// whether it never existed, expired, or was destroyed.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the persistence contract for bearer sessions. Tokens map
// to JSON session values with a native Redis TTL, so expiry needs no
// sweeper.
type SessionStore interface {
	// Create mints a fresh token, stores the session under it, and returns
	// the token.
	Create(ctx context.Context, session Session, ttl time.Duration) (string, error)

	// Get returns the session for a token, or ErrSessionNotFound.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete destroys the session for a token. Deleting an absent token is
	// not an error.
	Delete(ctx context.Context, token string) error
}

// redisSessionStore implements SessionStore on Redis.
type redisSessionStore struct {
	redis *redis.Client
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(rdb *redis.Client) SessionStore {
	return &redisSessionStore{redis: rdb}
}

func (s *redisSessionStore) Create(ctx context.Context, session Session, ttl time.Duration) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	data, err := json.Marshal(&session)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKeyPrefix+token, data, ttl).Err(); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	return token, nil
}

func (s *redisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}

	return &session, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// generateSessionToken creates a cryptographically random hex-encoded token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
