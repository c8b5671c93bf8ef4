package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// codeDigits is the length of a one-time code.
const codeDigits = 6

// Service is the business logic contract for one-time codes. Both the
// public send/verify endpoints and the auth flows (login second factor,
// signup verification, password reset) go through here, so the ledger is
// consulted on exactly the same terms everywhere.
type Service interface {
	// Send issues a fresh code for the identifier+channel+purpose and hands
	// it to the sender. The attempt ledger is consulted first; an active
	// block or cooldown rejects the request before any code is minted.
	Send(ctx context.Context, id Identifier, ch Channel, purpose Purpose, destination string) (*SendResult, error)

	// Verify checks a submitted code. Failures are charged to the ledger;
	// success resets the identifier+channel ledger and consumes the code.
	Verify(ctx context.Context, id Identifier, ch Channel, purpose Purpose, code string) error

	// RequireNotBlocked rejects with a rate-limit error if the
	// identifier+channel is inside a block window. Flows call this before
	// doing any work on behalf of the identifier.
	RequireNotBlocked(ctx context.Context, id Identifier, ch Channel) error
}

// SendResult reports the remaining send budget after a successful send.
type SendResult struct {
	AttemptsLeft int
}

// service implements Service.
type service struct {
	ledger Ledger
	store  ChallengeStore
	sender Sender
	ttl    time.Duration
}

// NewService creates an OTP service. ttl is the code lifetime.
func NewService(ledger Ledger, store ChallengeStore, sender Sender, ttl time.Duration) Service {
	return &service{ledger: ledger, store: store, sender: sender, ttl: ttl}
}

// Send runs the ledger's send transition, then mints, stores, and delivers
// a code. Storing before delivering means a delivery failure can be retried
// by a resend without burning a second code.
func (s *service) Send(ctx context.Context, id Identifier, ch Channel, purpose Purpose, destination string) (*SendResult, error) {
	if !ch.Valid() {
		return nil, apperror.NewValidation("channel", "channel must be email or phone")
	}
	if !purpose.Valid() {
		return nil, apperror.NewValidation("purpose", "unknown otp purpose")
	}

	decision, err := s.ledger.RecordSend(ctx, id, ch)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("recording otp send: %w", err))
	}
	if !decision.Allowed {
		return nil, denyError(decision)
	}

	code, err := randomCode()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating otp code: %w", err))
	}

	if err := s.store.Put(ctx, id, ch, purpose, code, s.ttl); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("storing otp challenge: %w", err))
	}

	if err := s.sender.SendCode(ctx, ch, destination, code); err != nil {
		// The challenge stays stored; a resend after the cooldown reuses
		// the budget, not a different error path.
		slog.Error("otp delivery failed",
			slog.String("channel", ch.String()),
			slog.String("destination", MaskDestination(ch, destination)),
			slog.Any("error", err),
		)
		return nil, apperror.NewInternal(fmt.Errorf("delivering otp: %w", err))
	}

	return &SendResult{AttemptsLeft: decision.AttemptsLeft}, nil
}

// Verify charges wrong or expired codes against the verify-failure budget,
// so an attacker cannot probe expired challenges for free.
func (s *service) Verify(ctx context.Context, id Identifier, ch Channel, purpose Purpose, code string) error {
	if len(code) != codeDigits || !allDigits(code) {
		return apperror.NewValidation("otp", fmt.Sprintf("otp must be exactly %d digits", codeDigits))
	}

	if err := s.RequireNotBlocked(ctx, id, ch); err != nil {
		return err
	}

	result, err := s.store.Consume(ctx, id, ch, purpose, code)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("consuming otp challenge: %w", err))
	}

	switch result {
	case ConsumeOK:
		if err := s.ledger.RecordVerifySuccess(ctx, id, ch); err != nil {
			// The code was correct and consumed; a stale ledger row only
			// means the next failure budget starts lower. Log, don't fail.
			slog.Warn("resetting attempt ledger after otp success failed",
				slog.String("channel", ch.String()),
				slog.Any("error", err),
			)
		}
		return nil

	default:
		decision, err := s.ledger.RecordVerifyFailure(ctx, id, ch)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("recording otp failure: %w", err))
		}
		if !decision.Allowed {
			return denyError(decision)
		}
		return apperror.NewBadRequest("invalid or expired code").
			WithDetail("attempts_left", decision.AttemptsLeft)
	}
}

func (s *service) RequireNotBlocked(ctx context.Context, id Identifier, ch Channel) error {
	blocked, remaining, err := s.ledger.IsBlocked(ctx, id, ch)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("checking block state: %w", err))
	}
	if blocked {
		return apperror.NewRateLimited("too many attempts, try again later", remaining)
	}
	return nil
}

// denyError maps a ledger denial to the client-facing error taxonomy.
// Every variant carries the machine-readable remaining wait.
func denyError(d Decision) error {
	switch d.Reason {
	case DenyCooldown:
		return apperror.NewRateLimited("please wait before requesting another code", d.RetryAfter)
	case DenyResendCap:
		return apperror.NewRateLimited("resend limit reached, wait for the current code to expire", d.RetryAfter)
	default:
		return apperror.NewRateLimited("too many attempts, try again later", d.RetryAfter)
	}
}

// randomCode draws a uniform 6-digit code from crypto/rand using rejection
// sampling over the 24-bit space.
func randomCode() (string, error) {
	const max = 1000000
	buf := make([]byte, 3)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		n := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
		// 16_000_000 is the largest multiple of 1_000_000 within 24 bits.
		if n >= 16*max {
			continue
		}
		return fmt.Sprintf("%06d", n%max), nil
	}
}

// allDigits reports whether s consists solely of ASCII digits.
func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
