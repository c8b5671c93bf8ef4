package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeKeyPrefix is the Redis key prefix for challenge records.
const challengeKeyPrefix = "captcha:"

// watchRetries bounds optimistic-lock retries when concurrent verifies race
// on the same session ID.
const watchRetries = 4

// ErrStoreUnavailable wraps Redis failures so callers can map them to a 500
// without leaking transport detail.
var ErrStoreUnavailable = errors.New("captcha store unavailable")

// Store is the persistence contract for challenges. The service depends
// only on this interface; the Redis implementation is chosen at startup.
type Store interface {
	// Save persists a freshly generated challenge under its session ID.
	Save(ctx context.Context, ch *Challenge, ttl time.Duration) error

	// Attempt runs one verification attempt atomically: no two concurrent
	// attempts on the same session ID can both observe a stale attempt
	// count and slip past the cap. Returns the outcome and, for live
	// challenges, the attempts remaining.
	Attempt(ctx context.Context, sessionID, answer string) (Outcome, int, error)

	// IsSolved reports whether a live challenge for the session ID is in
	// the solved state. Read-only: attempts are never touched.
	IsSolved(ctx context.Context, sessionID string) (bool, error)
}

// redisStore implements Store on Redis. Records are JSON values with a TTL;
// mutation happens under WATCH so the increment-then-compare step is
// linearizable per key.
type redisStore struct {
	redis       *redis.Client
	maxAttempts int
	solvedGrace time.Duration
}

// NewRedisStore creates a Redis-backed challenge store. maxAttempts is the
// per-challenge answer budget; solvedGrace is how long a solved challenge
// remains readable for multi-step flows.
func NewRedisStore(rdb *redis.Client, maxAttempts int, solvedGrace time.Duration) Store {
	return &redisStore{
		redis:       rdb,
		maxAttempts: maxAttempts,
		solvedGrace: solvedGrace,
	}
}

func (s *redisStore) key(sessionID string) string {
	return challengeKeyPrefix + sessionID
}

// Save persists the challenge. The Redis TTL is the primary expiry
// mechanism; ExpiresAt inside the record is a belt-and-braces check so a
// lagging delete can never extend a challenge's life.
func (s *redisStore) Save(ctx context.Context, ch *Challenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshaling challenge: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(ch.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Attempt implements the per-challenge state machine:
//
//  1. missing or expired record -> OutcomeNotFound
//  2. already solved -> read-only re-confirmation, attempts untouched
//  3. attempt cap reached -> delete record, OutcomeExhausted
//  4. otherwise increment attempts, then compare case-insensitively
//
// The whole sequence runs under WATCH and retries on TxFailedErr, so two
// racing requests serialize: one increments, the other re-reads the new
// count.
func (s *redisStore) Attempt(ctx context.Context, sessionID, answer string) (Outcome, int, error) {
	key := s.key(sessionID)
	normalized := normalizeAnswer(answer)

	for i := 0; i < watchRetries; i++ {
		var (
			outcome      Outcome
			attemptsLeft int
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var ch Challenge
			if err := json.Unmarshal(data, &ch); err != nil {
				return err
			}

			now := time.Now()
			if now.After(ch.ExpiresAt) {
				outcome = OutcomeNotFound
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			// Permitted exception to one-time use: a solved challenge may
			// be re-confirmed (equality check only) so multi-step flows can
			// reuse it. It is never re-armed and wrong answers here do not
			// mutate anything.
			if ch.Solved {
				if normalized == normalizeAnswer(ch.Answer) {
					outcome = OutcomeSolved
				} else {
					outcome = OutcomeWrong
				}
				attemptsLeft = 0
				return nil
			}

			if ch.Attempts >= s.maxAttempts {
				outcome = OutcomeExhausted
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ch.Attempts++

			if normalized == normalizeAnswer(ch.Answer) {
				ch.Solved = true
				ch.ExpiresAt = now.Add(s.solvedGrace)
				outcome = OutcomeSolved
				attemptsLeft = s.maxAttempts - ch.Attempts

				updated, err := json.Marshal(&ch)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, s.solvedGrace)
					return nil
				})
				return err
			}

			outcome = OutcomeWrong
			attemptsLeft = s.maxAttempts - ch.Attempts

			if ch.Attempts >= s.maxAttempts {
				// This wrong answer consumed the last attempt. Delete now so
				// the next caller gets OutcomeNotFound and must regenerate.
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(ch.ExpiresAt)
			if ttl <= 0 {
				outcome = OutcomeNotFound
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := json.Marshal(&ch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return OutcomeNotFound, 0, nil
		}
		if err != nil {
			return OutcomeNotFound, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		return outcome, attemptsLeft, nil
	}

	return OutcomeNotFound, 0, fmt.Errorf("%w: watch retries exhausted", ErrStoreUnavailable)
}

// IsSolved reports whether the session's challenge is currently solved.
// Used by flows that accept a previously solved captcha (login credentials
// step, forgot-password identify step).
func (s *redisStore) IsSolved(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return ch.Solved && time.Now().Before(ch.ExpiresAt), nil
}

// normalizeAnswer trims and lowercases an answer. Case-insensitive matching
// is intentional: the challenge is a bot deterrent, not a secret, and
// usability wins.
func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
