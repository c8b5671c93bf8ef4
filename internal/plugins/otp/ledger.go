package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ledgerKeyPrefix is the Redis key prefix for attempt ledger records.
const ledgerKeyPrefix = "otpledger:"

// ledgerWatchRetries bounds optimistic-lock retries when concurrent events
// race on the same identifier+channel.
const ledgerWatchRetries = 4

// ErrLedgerUnavailable wraps Redis failures so callers can map them to a
// 500 without leaking transport detail.
var ErrLedgerUnavailable = errors.New("attempt ledger unavailable")

// Ledger is the persistence contract for the attempt state machine. All
// methods apply Transition atomically per (identifier, channel): two
// concurrent events cannot both read a stale record and slip past a cap.
type Ledger interface {
	// RecordSend applies EventSend and returns the decision.
	RecordSend(ctx context.Context, id Identifier, ch Channel) (Decision, error)

	// RecordVerifyFailure applies EventVerifyFailure and returns the decision.
	RecordVerifyFailure(ctx context.Context, id Identifier, ch Channel) (Decision, error)

	// RecordVerifySuccess applies EventVerifySuccess, clearing the record.
	RecordVerifySuccess(ctx context.Context, id Identifier, ch Channel) error

	// IsBlocked reports whether the identifier+channel is inside a block
	// window, and if so how long remains.
	IsBlocked(ctx context.Context, id Identifier, ch Channel) (bool, time.Duration, error)

	// Get returns the current record, or nil if none exists yet.
	Get(ctx context.Context, id Identifier, ch Channel) (*Record, error)
}

// redisLedger implements Ledger on Redis. Records are JSON values mutated
// under WATCH; the key TTL equals the block duration so an untouched record
// fades after the longest window it could still influence.
type redisLedger struct {
	redis  *redis.Client
	policy Policy
}

// NewRedisLedger creates a Redis-backed attempt ledger enforcing the given
// policy.
func NewRedisLedger(rdb *redis.Client, policy Policy) Ledger {
	return &redisLedger{redis: rdb, policy: policy}
}

func ledgerKey(id Identifier, ch Channel) string {
	return ledgerKeyPrefix + ch.String() + ":" + id.String()
}

func (l *redisLedger) RecordSend(ctx context.Context, id Identifier, ch Channel) (Decision, error) {
	return l.apply(ctx, id, ch, EventSend)
}

func (l *redisLedger) RecordVerifyFailure(ctx context.Context, id Identifier, ch Channel) (Decision, error) {
	return l.apply(ctx, id, ch, EventVerifyFailure)
}

func (l *redisLedger) RecordVerifySuccess(ctx context.Context, id Identifier, ch Channel) error {
	_, err := l.apply(ctx, id, ch, EventVerifySuccess)
	return err
}

// apply runs one event through Transition under WATCH. On TxFailedErr the
// record is re-read and the transition re-evaluated against the fresh
// state, exactly as if this request had arrived second.
func (l *redisLedger) apply(ctx context.Context, id Identifier, ch Channel, ev Event) (Decision, error) {
	key := ledgerKey(id, ch)

	for i := 0; i < ledgerWatchRetries; i++ {
		var decision Decision

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec := Record{Identifier: id, Channel: ch}

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				// First event for this identifier+channel: start clear.
			case err != nil:
				return err
			default:
				if err := json.Unmarshal(data, &rec); err != nil {
					return err
				}
			}

			decision = Transition(rec, ev, time.Now(), l.policy)

			// A cooldown denial mutates nothing; skip the write so the
			// losing side of a race cannot clobber the winner's counters.
			if decision.Reason == DenyCooldown || decision.Reason == DenyResendCap {
				return nil
			}

			updated, err := json.Marshal(&decision.Record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, l.policy.BlockDuration)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}

		return decision, nil
	}

	return Decision{}, fmt.Errorf("%w: watch retries exhausted", ErrLedgerUnavailable)
}

func (l *redisLedger) IsBlocked(ctx context.Context, id Identifier, ch Channel) (bool, time.Duration, error) {
	rec, err := l.Get(ctx, id, ch)
	if err != nil {
		return false, 0, err
	}
	if rec == nil {
		return false, 0, nil
	}
	if remaining := time.Until(rec.BlockedUntil); remaining > 0 {
		return true, remaining, nil
	}
	return false, 0, nil
}

func (l *redisLedger) Get(ctx context.Context, id Identifier, ch Channel) (*Record, error) {
	data, err := l.redis.Get(ctx, ledgerKey(id, ch)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return &rec, nil
}
