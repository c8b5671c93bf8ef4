package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// flowKeyPrefix is the Redis key prefix for pending flow markers.
const flowKeyPrefix = "authflow:"

// FlowKind names a multi-step flow whose intermediate state needs a marker.
type FlowKind string

const (
	// FlowLogin marks that credentials (and captcha) passed and a login
	// code is pending. Without the marker a correct login code is refused,
	// so a leaked code alone cannot log in.
	FlowLogin FlowKind = "login"

	// FlowReset marks that a reset code was verified and a new password
	// may be set within the window.
	FlowReset FlowKind = "reset"
)

// ErrFlowNotFound is returned when no live marker exists for the key.
var ErrFlowNotFound = errors.New("flow marker not found")

// FlowStore persists short-lived markers that link the steps of a
// multi-step flow. Markers are keyed by the resolved user ID, not by the
// identifier the client submitted: codes go out to every channel the
// account has, and any of them must be able to complete the flow.
type FlowStore interface {
	// Put stores (or refreshes) a marker for the flow and user.
	Put(ctx context.Context, kind FlowKind, userID string, ttl time.Duration) error

	// Get returns nil if a live marker exists, or ErrFlowNotFound.
	Get(ctx context.Context, kind FlowKind, userID string) error

	// Delete removes a marker. Removing an absent marker is not an error.
	Delete(ctx context.Context, kind FlowKind, userID string) error
}

// redisFlowStore implements FlowStore on Redis.
type redisFlowStore struct {
	redis *redis.Client
}

// NewRedisFlowStore creates a Redis-backed flow marker store.
func NewRedisFlowStore(rdb *redis.Client) FlowStore {
	return &redisFlowStore{redis: rdb}
}

func flowKey(kind FlowKind, userID string) string {
	return flowKeyPrefix + string(kind) + ":" + userID
}

func (s *redisFlowStore) Put(ctx context.Context, kind FlowKind, userID string, ttl time.Duration) error {
	openedAt := time.Now().UTC().Format(time.RFC3339)
	if err := s.redis.Set(ctx, flowKey(kind, userID), openedAt, ttl).Err(); err != nil {
		return fmt.Errorf("storing flow marker: %w", err)
	}
	return nil
}

func (s *redisFlowStore) Get(ctx context.Context, kind FlowKind, userID string) error {
	err := s.redis.Get(ctx, flowKey(kind, userID)).Err()
	if errors.Is(err, redis.Nil) {
		return ErrFlowNotFound
	}
	if err != nil {
		return fmt.Errorf("reading flow marker: %w", err)
	}
	return nil
}

func (s *redisFlowStore) Delete(ctx context.Context, kind FlowKind, userID string) error {
	if err := s.redis.Del(ctx, flowKey(kind, userID)).Err(); err != nil {
		return fmt.Errorf("deleting flow marker: %w", err)
	}
	return nil
}
