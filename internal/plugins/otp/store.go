package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeKeyPrefix is the Redis key prefix for pending one-time codes.
const challengeKeyPrefix = "otp:"

// challengeWatchRetries bounds optimistic-lock retries on concurrent
// verifications of the same challenge.
const challengeWatchRetries = 4

// ErrChallengeStoreUnavailable wraps Redis failures.
var ErrChallengeStoreUnavailable = errors.New("otp challenge store unavailable")

// ConsumeResult classifies a code verification against the challenge store.
type ConsumeResult int

const (
	// ConsumeOK: code matched; the challenge has been deleted.
	ConsumeOK ConsumeResult = iota

	// ConsumeWrong: a live challenge exists but the code did not match.
	ConsumeWrong

	// ConsumeNotFound: no live challenge (never sent, expired, superseded,
	// or already consumed).
	ConsumeNotFound
)

// ChallengeStore is the persistence contract for pending codes. One
// challenge lives per (identifier, channel, purpose); Put supersedes any
// previous one, which is how "creating a new code invalidates the old"
// falls out for free.
type ChallengeStore interface {
	// Put stores the hash of a freshly issued code, replacing any pending
	// challenge for the same key.
	Put(ctx context.Context, id Identifier, ch Channel, purpose Purpose, code string, ttl time.Duration) error

	// Consume verifies a code and, on match, deletes the challenge so it
	// can never be replayed. Match-then-delete is atomic per key.
	Consume(ctx context.Context, id Identifier, ch Channel, purpose Purpose, code string) (ConsumeResult, error)
}

// redisChallengeStore implements ChallengeStore on Redis.
type redisChallengeStore struct {
	redis *redis.Client
}

// NewRedisChallengeStore creates a Redis-backed challenge store.
func NewRedisChallengeStore(rdb *redis.Client) ChallengeStore {
	return &redisChallengeStore{redis: rdb}
}

func challengeKey(id Identifier, ch Channel, purpose Purpose) string {
	return challengeKeyPrefix + purpose.String() + ":" + ch.String() + ":" + id.String()
}

// hashCode returns the hex SHA-256 of a code. Codes are six digits, so the
// hash is not protecting against offline cracking -- it keeps plaintext
// codes out of Redis dumps and debug tooling.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (s *redisChallengeStore) Put(ctx context.Context, id Identifier, ch Channel, purpose Purpose, code string, ttl time.Duration) error {
	challenge := Challenge{
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(ttl),
	}

	data, err := json.Marshal(&challenge)
	if err != nil {
		return fmt.Errorf("marshaling otp challenge: %w", err)
	}

	if err := s.redis.Set(ctx, challengeKey(id, ch, purpose), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeStoreUnavailable, err)
	}
	return nil
}

// Consume compares under WATCH so two concurrent verifications of the same
// code cannot both succeed: the loser's transaction fails and re-reads a
// deleted key.
func (s *redisChallengeStore) Consume(ctx context.Context, id Identifier, ch Channel, purpose Purpose, code string) (ConsumeResult, error) {
	key := challengeKey(id, ch, purpose)
	providedHash := hashCode(code)

	for i := 0; i < challengeWatchRetries; i++ {
		var result ConsumeResult

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var challenge Challenge
			if err := json.Unmarshal(data, &challenge); err != nil {
				return err
			}

			if time.Now().After(challenge.ExpiresAt) {
				result = ConsumeNotFound
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if subtle.ConstantTimeCompare([]byte(providedHash), []byte(challenge.CodeHash)) != 1 {
				result = ConsumeWrong
				return nil
			}

			result = ConsumeOK
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return ConsumeNotFound, nil
		}
		if err != nil {
			return ConsumeNotFound, fmt.Errorf("%w: %v", ErrChallengeStoreUnavailable, err)
		}

		return result, nil
	}

	return ConsumeNotFound, fmt.Errorf("%w: watch retries exhausted", ErrChallengeStoreUnavailable)
}
