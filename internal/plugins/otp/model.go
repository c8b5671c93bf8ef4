// Package otp implements one-time-code issuance and the per-identifier
// attempt ledger that guards every OTP-bearing flow (login, signup
// verification, password reset) against brute force. The ledger is a single
// state machine per (identifier, channel) with named states
// clear -> warned -> blocked and one transition function, so login and
// reset call sites cannot drift apart in enforcement.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package otp

import (
	"strings"
	"time"
)

// Channel is the delivery medium for a one-time code.
type Channel string

const (
	// ChannelEmail delivers codes to the account's email address.
	ChannelEmail Channel = "email"

	// ChannelPhone delivers codes to the account's phone via SMS.
	ChannelPhone Channel = "phone"
)

func (c Channel) String() string { return string(c) }

// Valid reports whether the channel is one of the known constants.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

// Purpose scopes a code to the flow that requested it. A login code can
// never satisfy a password-reset verification and vice versa.
type Purpose string

const (
	// PurposeVerify covers the signup email/phone verification sub-flows.
	PurposeVerify Purpose = "verify"

	// PurposeLogin covers the second step of the login flow.
	PurposeLogin Purpose = "login"

	// PurposeReset covers the forgot-password flow.
	PurposeReset Purpose = "reset"
)

func (p Purpose) String() string { return string(p) }

// Valid reports whether the purpose is one of the known constants.
func (p Purpose) Valid() bool {
	return p == PurposeVerify || p == PurposeLogin || p == PurposeReset
}

// Identifier is the rate-limiting key: a normalized email address or a
// country-code+phone pair. Construct via EmailIdentifier/PhoneIdentifier so
// case and whitespace variants of the same address share one ledger record.
type Identifier string

// EmailIdentifier normalizes an email address into an Identifier.
// Email matching is case-insensitive.
func EmailIdentifier(email string) Identifier {
	return Identifier(strings.ToLower(strings.TrimSpace(email)))
}

// PhoneIdentifier combines a country code and phone number into an
// Identifier. The two parts are joined with a separator that cannot appear
// in either, so ("1", "2345") and ("12", "345") stay distinct.
func PhoneIdentifier(countryCode, phone string) Identifier {
	return Identifier(strings.TrimSpace(countryCode) + "|" + strings.TrimSpace(phone))
}

func (i Identifier) String() string { return string(i) }

// State names the position of a ledger record in its lifecycle.
type State string

const (
	// StateClear means no strikes are recorded.
	StateClear State = "clear"

	// StateWarned means some budget is spent but requests still pass.
	StateWarned State = "warned"

	// StateBlocked means the block window is active and every request for
	// the identifier+channel is rejected until it elapses.
	StateBlocked State = "blocked"
)

// Record is the per-(identifier, channel) ledger row. Mutated on every
// send/verify event; never deleted, only superseded. Once BlockedUntil is
// set it overrides the counters until it elapses, after which the counters
// reset to zero.
type Record struct {
	Identifier     Identifier `json:"identifier"`
	Channel        Channel    `json:"channel"`
	SendAttempts   int        `json:"send_attempts"`
	VerifyFailures int        `json:"verify_failures"`
	Resends        int        `json:"resends"`
	LastSendAt     time.Time  `json:"last_send_at"`
	BlockedUntil   time.Time  `json:"blocked_until"`
}

// StateAt reports the record's named state at the given instant.
func (r *Record) StateAt(now time.Time) State {
	if now.Before(r.BlockedUntil) {
		return StateBlocked
	}
	if r.SendAttempts > 0 || r.VerifyFailures > 0 {
		return StateWarned
	}
	return StateClear
}

// Challenge is a pending one-time code. The plaintext code is never stored;
// CodeHash is its SHA-256. One challenge lives per
// (identifier, channel, purpose) -- issuing a new one supersedes the old.
type Challenge struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}
