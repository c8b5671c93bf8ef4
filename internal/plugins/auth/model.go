// Package auth handles accounts, credentials, sessions, and the multi-step
// login, signup-verification, and password-reset flows for Bazarhub. Every
// flow is gated by the captcha and otp plugins before it touches account
// state, and successful flows end in an opaque bearer session stored in
// Redis.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Role is the account's position in the marketplace.
type Role string

const (
	// RoleCustomer is the default role every new account starts with.
	RoleCustomer Role = "customer"

	// RoleShopkeeper is granted after an approved shop application.
	RoleShopkeeper Role = "shopkeeper"

	// RoleEmployee is granted after an approved employee application.
	RoleEmployee Role = "employee"

	// RoleAdmin reviews role applications and reads the audit log.
	RoleAdmin Role = "admin"
)

func (r Role) String() string { return string(r) }

// RoleStatus tracks where the account's latest role application stands.
type RoleStatus string

const (
	// RoleStatusPending means an application awaits admin review.
	RoleStatusPending RoleStatus = "pending"

	// RoleStatusApproved means the current role is effective.
	RoleStatusApproved RoleStatus = "approved"

	// RoleStatusRejected means the latest application was declined; the
	// account keeps its previous effective role.
	RoleStatusRejected RoleStatus = "rejected"
)

func (s RoleStatus) String() string { return string(s) }

// User represents a registered Bazarhub account. This is the domain model
// used throughout the application. Database scanning and JSON marshaling use
// this struct directly.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	CountryCode   string     `json:"countryCode,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	PasswordHash  string     `json:"-"` // Never expose in JSON responses.
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName,omitempty"`
	Role          Role       `json:"role"`
	RoleStatus    RoleStatus `json:"roleStatus"`
	EmailVerified bool       `json:"emailVerified"`
	PhoneVerified bool       `json:"phoneVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// SignupRequest holds the data submitted to POST /auth/signup. The captcha
// answer is verified as part of signup, one attempt against the challenge.
type SignupRequest struct {
	Email            string `json:"email"`
	CountryCode      string `json:"countryCode"`
	Phone            string `json:"phone"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Password         string `json:"password"`
	Confirm          string `json:"confirm"`
	CaptchaSessionID string `json:"captchaSessionId"`
	CaptchaAnswer    string `json:"captchaAnswer"`
}

// LoginRequest holds the credentials step of the login flow. The referenced
// captcha challenge must already be solved.
type LoginRequest struct {
	Identifier       string `json:"identifier"`
	CountryCode      string `json:"countryCode"`
	Password         string `json:"password"`
	CaptchaSessionID string `json:"captchaSessionId"`
}

// SendOTPRequest asks for a (re)send of a one-time code.
type SendOTPRequest struct {
	Identifier  string `json:"identifier"`
	CountryCode string `json:"countryCode"`
	Channel     string `json:"channel"`
	Purpose     string `json:"purpose"`
}

// VerifyOTPRequest submits a one-time code. Purpose defaults to "verify"
// (the signup email/phone confirmation sub-flow).
type VerifyOTPRequest struct {
	Identifier  string `json:"identifier"`
	CountryCode string `json:"countryCode"`
	Channel     string `json:"channel"`
	OTP         string `json:"otp"`
	Purpose     string `json:"purpose"`
}

// ForgotPasswordRequest starts the password-reset flow. The referenced
// captcha challenge must already be solved. Type optionally restricts
// delivery to one channel; empty means both.
type ForgotPasswordRequest struct {
	Identifier       string `json:"identifier"`
	CountryCode      string `json:"countryCode"`
	Type             string `json:"type"`
	CaptchaSessionID string `json:"captchaSessionId"`
}

// ResetPasswordRequest completes the password-reset flow. It requires a
// freshly solved captcha, independent from the identify-step challenge, so
// the answer is verified here rather than re-read.
type ResetPasswordRequest struct {
	Identifier       string `json:"identifier"`
	CountryCode      string `json:"countryCode"`
	NewPassword      string `json:"newPassword"`
	Confirm          string `json:"confirm"`
	CaptchaSessionID string `json:"captchaSessionId"`
	CaptchaAnswer    string `json:"captchaAnswer"`
}

// --- Response DTOs ---

// AuthResult is returned when a flow ends in an authenticated session.
type AuthResult struct {
	SessionToken string `json:"sessionToken"`
	User         *User  `json:"user"`
}

// OTPPending is returned when a flow has moved to its otp-pending step.
// Destinations are masked; the client shows them so the user knows where
// to look for the code.
type OTPPending struct {
	MaskedEmail string   `json:"maskedEmail,omitempty"`
	MaskedPhone string   `json:"maskedPhone,omitempty"`
	Channels    []string `json:"channels"`
	ExpiresIn   int      `json:"expiresInSeconds"`
}

// VerifyOTPResult reports a successful code verification. SessionToken and
// User are set only when the verification completed a login.
type VerifyOTPResult struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"sessionToken,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// --- Session ---

// Session represents an authenticated session stored in Redis. The token is
// the key, and this struct is the value (JSON-encoded). Read-checked on
// every authenticated request, never mutated.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
