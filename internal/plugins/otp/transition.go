package otp

import "time"

// Event is an input to the ledger state machine.
type Event int

const (
	// EventSend is an OTP send or resend request.
	EventSend Event = iota

	// EventVerifyFailure is a wrong-code verification.
	EventVerifyFailure

	// EventVerifySuccess is a correct-code verification.
	EventVerifySuccess
)

// DenyReason classifies why a transition rejected its event.
type DenyReason int

const (
	// DenyNone: the event was allowed.
	DenyNone DenyReason = iota

	// DenyBlocked: the block window is (now) active.
	DenyBlocked

	// DenyCooldown: a resend arrived before the cooldown elapsed. Nothing
	// was counted against the caller.
	DenyCooldown

	// DenyResendCap: the resend budget for the pending code is spent.
	DenyResendCap
)

// Policy holds the caps and windows the transition function enforces.
type Policy struct {
	MaxSends       int
	MaxFailures    int
	MaxResends     int
	ResendCooldown time.Duration
	BlockDuration  time.Duration

	// OTPTTL is only used to tell a capped resender how long until the
	// pending code expires and the budget renews.
	OTPTTL time.Duration
}

// Decision is the output of a transition: whether the event may proceed,
// why not, how long to wait, how much budget remains, and the updated
// record to persist. Record must be persisted even on denial -- a denied
// 5th send still sets BlockedUntil.
type Decision struct {
	Allowed      bool
	Reason       DenyReason
	RetryAfter   time.Duration
	AttemptsLeft int
	Record       Record
}

// Transition is the single transition function of the ledger state machine.
// It is pure: all persistence and locking live in the Ledger implementation,
// which must apply Transition atomically per (identifier, channel).
//
// Rules, in order:
//
//  1. An active block rejects every event (except success, which is
//     unreachable while blocked because verification is gated upstream).
//  2. An elapsed block resets all counters before the event is considered:
//     serving the block wipes the slate.
//  3. Sends: a resend inside the cooldown is rejected WITHOUT counting;
//     a resend past the resend cap is rejected without counting; otherwise
//     the send counter (and resend counter) advance, and reaching the send
//     cap raises the block and rejects the triggering send itself.
//  4. Verify failures advance their own counter; reaching the failure cap
//     raises the block.
//  5. A verify success resets the record to clear.
func Transition(rec Record, ev Event, now time.Time, p Policy) Decision {
	// Rule 1: active block wins over everything.
	if now.Before(rec.BlockedUntil) {
		return Decision{
			Allowed:    false,
			Reason:     DenyBlocked,
			RetryAfter: rec.BlockedUntil.Sub(now),
			Record:     rec,
		}
	}

	// Rule 2: elapsed block resets counters, then the event proceeds.
	if !rec.BlockedUntil.IsZero() {
		rec = Record{Identifier: rec.Identifier, Channel: rec.Channel}
	}

	switch ev {
	case EventSend:
		resend := rec.SendAttempts > 0

		// The resend budget is per pending code: once the previous code has
		// expired, the next send starts a fresh code and a fresh budget.
		// The overall send counter keeps accumulating regardless.
		if resend && now.Sub(rec.LastSendAt) >= p.OTPTTL {
			rec.Resends = 0
			resend = false
		}

		if resend {
			if sinceLast := now.Sub(rec.LastSendAt); sinceLast < p.ResendCooldown {
				// Rejected without incrementing anything; surface the exact
				// remaining wait so the client can render a countdown.
				return Decision{
					Allowed:    false,
					Reason:     DenyCooldown,
					RetryAfter: p.ResendCooldown - sinceLast,
					Record:     rec,
				}
			}
			if rec.Resends >= p.MaxResends {
				retry := rec.LastSendAt.Add(p.OTPTTL).Sub(now)
				if retry < 0 {
					retry = 0
				}
				return Decision{
					Allowed:    false,
					Reason:     DenyResendCap,
					RetryAfter: retry,
					Record:     rec,
				}
			}
			rec.Resends++
		}

		rec.SendAttempts++
		if rec.SendAttempts >= p.MaxSends {
			// The capping send is itself rejected: the block supersedes the
			// action it would have triggered.
			rec.BlockedUntil = now.Add(p.BlockDuration)
			return Decision{
				Allowed:    false,
				Reason:     DenyBlocked,
				RetryAfter: p.BlockDuration,
				Record:     rec,
			}
		}

		rec.LastSendAt = now
		return Decision{
			Allowed:      true,
			AttemptsLeft: p.MaxSends - rec.SendAttempts,
			Record:       rec,
		}

	case EventVerifyFailure:
		rec.VerifyFailures++
		if rec.VerifyFailures >= p.MaxFailures {
			rec.BlockedUntil = now.Add(p.BlockDuration)
			return Decision{
				Allowed:    false,
				Reason:     DenyBlocked,
				RetryAfter: p.BlockDuration,
				Record:     rec,
			}
		}
		return Decision{
			Allowed:      true,
			AttemptsLeft: p.MaxFailures - rec.VerifyFailures,
			Record:       rec,
		}

	case EventVerifySuccess:
		// Fresh start for the next login.
		return Decision{
			Allowed: true,
			Record:  Record{Identifier: rec.Identifier, Channel: rec.Channel},
		}
	}

	return Decision{Allowed: false, Record: rec}
}
