package captcha

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// answerAlphabet is the character set challenges are drawn from. Uppercase
// letters and digits only: no lowercase lookalikes to squint at once the
// frontend distorts the rendering.
const answerAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// answerLength is the number of characters in a challenge.
const answerLength = 6

// sessionIDBytes is the random length of a challenge session ID.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters. The ID is
// the only authorization to answer a challenge, so it must be unguessable.
const sessionIDBytes = 32

// Service defines the business logic contract for CAPTCHA challenges.
// Handlers and the auth flows call these methods -- they never touch the
// store directly.
type Service interface {
	// Generate creates and persists a fresh challenge.
	Generate(ctx context.Context) (*GenerateResponse, error)

	// Verify runs one answer attempt against a challenge.
	Verify(ctx context.Context, sessionID, answer string) (*VerifyResponse, error)

	// RequireSolved returns nil only if the session's challenge is
	// currently solved. The read path for flows that accept a captcha
	// solved in an earlier step.
	RequireSolved(ctx context.Context, sessionID string) error
}

// service implements Service with crypto/rand generation and a pluggable
// store.
type service struct {
	store Store
	ttl   time.Duration
}

// NewService creates a captcha service. ttl is the unsolved-challenge
// lifetime.
func NewService(store Store, ttl time.Duration) Service {
	return &service{store: store, ttl: ttl}
}

// Generate creates a 6-character challenge keyed by a fresh session ID and
// persists it unsolved with zero attempts.
func (s *service) Generate(ctx context.Context) (*GenerateResponse, error) {
	answer, err := randomAnswer()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating captcha answer: %w", err))
	}

	sessionID, err := randomSessionID()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating captcha session id: %w", err))
	}

	ch := &Challenge{
		SessionID: sessionID,
		Answer:    answer,
		Attempts:  0,
		Solved:    false,
		ExpiresAt: time.Now().Add(s.ttl),
	}

	if err := s.store.Save(ctx, ch, s.ttl); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("saving captcha challenge: %w", err))
	}

	// The question IS the answer; visual distortion is a rendering concern.
	return &GenerateResponse{SessionID: sessionID, Question: answer}, nil
}

// Verify runs one attempt. Wrong answers below the cap report how many
// attempts remain; an exhausted or missing challenge tells the client to
// generate a fresh one.
func (s *service) Verify(ctx context.Context, sessionID, answer string) (*VerifyResponse, error) {
	if sessionID == "" {
		return nil, apperror.NewValidation("sessionId", "captcha session id is required")
	}
	if answer == "" {
		return nil, apperror.NewValidation("answer", "captcha answer is required")
	}

	outcome, attemptsLeft, err := s.store.Attempt(ctx, sessionID, answer)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("verifying captcha: %w", err))
	}

	switch outcome {
	case OutcomeSolved:
		return &VerifyResponse{Valid: true, AttemptsLeft: attemptsLeft}, nil
	case OutcomeWrong:
		return &VerifyResponse{Valid: false, AttemptsLeft: attemptsLeft}, nil
	case OutcomeExhausted:
		return nil, apperror.NewCaptchaFailed("captcha attempts exhausted, request a new challenge", 0)
	default:
		return nil, apperror.NewCaptchaFailed("captcha expired or unknown, request a new challenge", 0)
	}
}

// RequireSolved is the read-confirmation path: it never consumes attempts
// and never re-arms anything.
func (s *service) RequireSolved(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperror.NewValidation("captchaSessionId", "captcha session id is required")
	}

	solved, err := s.store.IsSolved(ctx, sessionID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("checking captcha state: %w", err))
	}
	if !solved {
		slog.Debug("unsolved captcha presented", slog.String("session_id_prefix", safePrefix(sessionID)))
		return apperror.NewCaptchaFailed("captcha not solved, request a new challenge", 0)
	}
	return nil
}

// randomAnswer draws answerLength characters from answerAlphabet using
// crypto/rand, with rejection sampling to keep the draw uniform.
func randomAnswer() (string, error) {
	out := make([]byte, answerLength)
	buf := make([]byte, 1)
	for i := 0; i < answerLength; {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		// Reject bytes that would bias the draw toward the alphabet's head.
		if int(buf[0]) >= 256-(256%len(answerAlphabet)) {
			continue
		}
		out[i] = answerAlphabet[int(buf[0])%len(answerAlphabet)]
		i++
	}
	return string(out), nil
}

// randomSessionID creates a cryptographically random hex-encoded ID.
func randomSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// safePrefix returns the first few characters of an opaque ID for logging
// without disclosing the full credential.
func safePrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
