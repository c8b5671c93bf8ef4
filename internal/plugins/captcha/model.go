// Package captcha issues and verifies short-lived human-check challenges
// that gate the login, signup, and password-reset flows. A challenge is a
// 6-character string the client must echo back; rendering it as a distorted
// image is the frontend's concern -- the canonical answer equals the
// displayed text.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package captcha

import "time"

// Challenge is a single CAPTCHA challenge. The session ID is the sole
// authorization to answer it, so it carries 256 bits of entropy. Once
// Solved is set or Attempts reaches the cap, the challenge can never be
// re-armed; a fresh Generate is required.
type Challenge struct {
	SessionID string    `json:"-"`
	Answer    string    `json:"answer"`
	Attempts  int       `json:"attempts"`
	Solved    bool      `json:"solved"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Outcome classifies the result of a single verification attempt.
type Outcome int

const (
	// OutcomeSolved means the answer matched; the challenge is now solved.
	OutcomeSolved Outcome = iota

	// OutcomeWrong means the answer did not match. The attempt counted
	// toward the cap unless the challenge was already solved.
	OutcomeWrong

	// OutcomeNotFound means no live challenge exists for the session ID:
	// never issued, expired, or already deleted after exhaustion.
	OutcomeNotFound

	// OutcomeExhausted means the attempt cap was reached. The challenge has
	// been deleted; even the correct answer is refused from here on.
	OutcomeExhausted
)

// --- Request/response DTOs ---

// GenerateResponse is returned by GET /captcha/generate.
type GenerateResponse struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

// VerifyRequest is the body of POST /captcha/verify.
type VerifyRequest struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

// VerifyResponse is returned by POST /captcha/verify.
type VerifyResponse struct {
	Valid        bool `json:"valid"`
	AttemptsLeft int  `json:"attemptsLeft"`
}
