// Package audit records security-relevant account events (signups, login
// outcomes, blocks, password resets, role decisions) into the audit_log
// table. Writers treat it as fire-and-forget: a failed audit write never
// fails the operation it describes.
//
// This is an optional plugin -- it only observes what other plugins do.
package audit

import "time"

// --- Action Constants ---
// Each action string follows the pattern "resource.verb" for consistent
// filtering and display grouping.

const (
	// ActionSignup is logged when a new account is created.
	ActionSignup = "auth.signup"

	// ActionLogin is logged when a login completes (credentials plus OTP).
	ActionLogin = "auth.login"

	// ActionLoginFailed is logged on a wrong password or a failed login OTP.
	ActionLoginFailed = "auth.login_failed"

	// ActionBlocked is logged when an identifier+channel enters a block
	// window after exhausting its attempt budget.
	ActionBlocked = "auth.blocked"

	// ActionChannelVerified is logged when an email or phone is confirmed.
	ActionChannelVerified = "auth.channel_verified"

	// ActionPasswordReset is logged when a forgot-password flow completes.
	ActionPasswordReset = "auth.password_reset"

	// ActionLogout is logged when a session is destroyed by its owner.
	ActionLogout = "auth.logout"

	// ActionRoleSubmitted is logged when a user applies for a role.
	ActionRoleSubmitted = "role.submitted"

	// ActionRoleReviewed is logged when an admin approves or rejects a
	// role application.
	ActionRoleReviewed = "role.reviewed"
)

// Entry represents a single recorded event in the audit log. UserID is
// empty when the event has no resolved account (e.g. a failed login for an
// unknown identifier); Identifier carries the claimed email/phone either
// way. The Details map holds action-specific metadata.
type Entry struct {
	ID         int64          `json:"id"`
	UserID     string         `json:"userId,omitempty"`
	Identifier string         `json:"identifier,omitempty"`
	Action     string         `json:"action"`
	IP         string         `json:"ip,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`

	// UserEmail is joined from the users table for the admin listing.
	// Not stored in audit_log -- populated at query time.
	UserEmail string `json:"userEmail,omitempty"`
}

// ListFilter narrows the admin audit listing.
type ListFilter struct {
	// Action restricts results to one action string. Empty means all.
	Action string

	// UserID restricts results to one account. Empty means all.
	UserID string
}
