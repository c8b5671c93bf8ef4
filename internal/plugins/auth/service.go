package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bazarhub/bazarhub/internal/apperror"
	"github.com/bazarhub/bazarhub/internal/plugins/audit"
	"github.com/bazarhub/bazarhub/internal/plugins/captcha"
	"github.com/bazarhub/bazarhub/internal/plugins/otp"
)

// Service defines the business logic contract for authentication. Handlers
// call these methods -- they never touch the repository or stores directly.
//
// The multi-step flows move through named states:
//
//	login:  credentials -> otp-pending -> authenticated
//	reset:  identify -> otp-pending -> reset -> done
//
// Step transitions are carried by FlowStore markers; the otp plugin's
// attempt ledger gates every send and verify.
type Service interface {
	// Signup creates an account, opens a session, and kicks off the email
	// and phone verification sub-flows.
	Signup(ctx context.Context, req SignupRequest, ip string) (*AuthResult, error)

	// Login is the credentials step: password plus a solved captcha. On
	// success it issues login codes and moves the flow to otp-pending.
	Login(ctx context.Context, req LoginRequest, ip string) (*OTPPending, error)

	// SendOTP (re)issues a code for an existing account, subject to the
	// attempt ledger's resend policy.
	SendOTP(ctx context.Context, req SendOTPRequest) (*otp.SendResult, error)

	// VerifyOTP checks a code. For purpose "login" it completes the login
	// flow and returns a session; for "verify" it flips the channel's
	// verified flag; for "reset" it opens the password-reset window.
	VerifyOTP(ctx context.Context, req VerifyOTPRequest, ip string) (*VerifyOTPResult, error)

	// ForgotPassword is the identify step of the reset flow: a known
	// identifier plus a solved captcha. Issues reset codes.
	ForgotPassword(ctx context.Context, req ForgotPasswordRequest, ip string) (*OTPPending, error)

	// ResetPassword sets a new password inside an open reset window. It
	// requires a freshly solved captcha, verified here in one attempt.
	ResetPassword(ctx context.Context, req ResetPasswordRequest, ip string) error

	// ValidateSession resolves a bearer token to its session.
	ValidateSession(ctx context.Context, token string) (*Session, error)

	// Logout destroys the session behind a bearer token.
	Logout(ctx context.Context, token string, ip string) error

	// GetUser returns the account behind a user ID.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// service implements Service.
type service struct {
	repo     UserRepository
	sessions SessionStore
	flows    FlowStore
	captcha  captcha.Service
	otp      otp.Service
	audit    audit.Service

	sessionTTL time.Duration
	otpTTL     time.Duration
	flowTTL    time.Duration
}

// NewService creates the auth service. flowTTL bounds how long the
// otp-pending and reset steps stay open.
func NewService(
	repo UserRepository,
	sessions SessionStore,
	flows FlowStore,
	captchaSvc captcha.Service,
	otpSvc otp.Service,
	auditSvc audit.Service,
	sessionTTL, otpTTL, flowTTL time.Duration,
) Service {
	return &service{
		repo:       repo,
		sessions:   sessions,
		flows:      flows,
		captcha:    captchaSvc,
		otp:        otpSvc,
		audit:      auditSvc,
		sessionTTL: sessionTTL,
		otpTTL:     otpTTL,
		flowTTL:    flowTTL,
	}
}

// Signup validates the profile, burns one captcha attempt, creates the
// account, opens a session, and fires the verification codes for both
// channels. The account exists once validation passes; the verified flags
// catch up as each OTP sub-flow completes.
func (s *service) Signup(ctx context.Context, req SignupRequest, ip string) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	countryCode := strings.TrimSpace(req.CountryCode)
	phone := strings.TrimSpace(req.Phone)
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.NewValidation("email", "a valid email address is required")
	}
	if firstName == "" {
		return nil, apperror.NewValidation("firstName", "first name is required")
	}
	if phone != "" {
		if countryCode == "" {
			return nil, apperror.NewValidation("countryCode", "country code is required with a phone number")
		}
		if !allPhoneDigits(phone) {
			return nil, apperror.NewValidation("phone", "phone number must contain digits only")
		}
	}
	if err := validatePasswordStrength(req.Password); err != nil {
		return nil, err
	}
	if req.Password != req.Confirm {
		return nil, apperror.NewValidation("confirm", "passwords do not match")
	}

	// One attempt against the signup captcha. A wrong answer counts toward
	// the challenge's cap like any other attempt.
	verdict, err := s.captcha.Verify(ctx, req.CaptchaSessionID, req.CaptchaAnswer)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		return nil, apperror.NewCaptchaFailed("wrong captcha answer", verdict.AttemptsLeft)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		CountryCode:  countryCode,
		Phone:        phone,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         RoleCustomer,
		RoleStatus:   RoleStatusApproved,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	// Verification codes are best effort at signup time: a ledger denial or
	// delivery failure must not roll back the account. The user can resend
	// from the verification screen.
	s.sendVerificationCodes(ctx, user)

	s.audit.Record(audit.Entry{
		UserID:     user.ID,
		Identifier: user.Email,
		Action:     audit.ActionSignup,
		IP:         ip,
	})

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("email", otp.MaskDestination(otp.ChannelEmail, user.Email)),
	)

	return &AuthResult{SessionToken: token, User: user}, nil
}

// Login is the credentials state of the login flow. The captcha referenced
// by the request must already be solved (read path, no attempt consumed).
// On success codes go out to both channels and a login marker opens the
// otp-pending state.
func (s *service) Login(ctx context.Context, req LoginRequest, ip string) (*OTPPending, error) {
	if req.Password == "" {
		return nil, apperror.NewValidation("password", "password is required")
	}
	if err := s.captcha.RequireSolved(ctx, req.CaptchaSessionID); err != nil {
		return nil, err
	}

	id, user, err := s.resolveUser(ctx, req.Identifier, req.CountryCode)
	if err != nil {
		// Same response for unknown identifier and wrong password.
		if apperror.SafeCode(err) == 404 {
			return nil, apperror.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		s.audit.Record(audit.Entry{
			UserID:     user.ID,
			Identifier: id.String(),
			Action:     audit.ActionLoginFailed,
			IP:         ip,
			Details:    map[string]any{"reason": "wrong_password"},
		})
		return nil, apperror.NewUnauthorized("invalid credentials")
	}

	pending, err := s.issueCodes(ctx, user, otp.PurposeLogin)
	if err != nil {
		return nil, err
	}

	if err := s.flows.Put(ctx, FlowLogin, user.ID, s.flowTTL); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("opening login flow: %w", err))
	}

	return pending, nil
}

// SendOTP (re)issues a code for an existing account. The ledger enforces
// the cooldown and resend caps; unknown identifiers are refused so codes
// are never minted for addresses that cannot complete any flow.
func (s *service) SendOTP(ctx context.Context, req SendOTPRequest) (*otp.SendResult, error) {
	ch := otp.Channel(strings.ToLower(strings.TrimSpace(req.Channel)))
	if !ch.Valid() {
		return nil, apperror.NewValidation("channel", "channel must be email or phone")
	}
	purpose := otp.Purpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		purpose = otp.PurposeVerify
	}
	if !purpose.Valid() {
		return nil, apperror.NewValidation("purpose", "unknown otp purpose")
	}

	_, user, err := s.resolveUser(ctx, req.Identifier, req.CountryCode)
	if err != nil {
		return nil, err
	}

	id, destination, err := channelTarget(user, ch)
	if err != nil {
		return nil, err
	}

	return s.otp.Send(ctx, id, ch, purpose, destination)
}

// VerifyOTP dispatches a submitted code by purpose.
func (s *service) VerifyOTP(ctx context.Context, req VerifyOTPRequest, ip string) (*VerifyOTPResult, error) {
	ch := otp.Channel(strings.ToLower(strings.TrimSpace(req.Channel)))
	if !ch.Valid() {
		return nil, apperror.NewValidation("channel", "channel must be email or phone")
	}
	purpose := otp.Purpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		purpose = otp.PurposeVerify
	}
	if !purpose.Valid() {
		return nil, apperror.NewValidation("purpose", "unknown otp purpose")
	}

	_, user, err := s.resolveUser(ctx, req.Identifier, req.CountryCode)
	if err != nil {
		return nil, err
	}

	// Codes live under the channel-derived identifier, the same key the
	// send path used. The client may identify the account by email and
	// still submit the code that was delivered to the phone.
	id, _, err := channelTarget(user, ch)
	if err != nil {
		return nil, err
	}

	switch purpose {
	case otp.PurposeLogin:
		return s.completeLogin(ctx, id, ch, user, req.OTP, ip)

	case otp.PurposeReset:
		if err := s.verifyCode(ctx, id, ch, purpose, user, req.OTP, ip); err != nil {
			return nil, err
		}
		// Open the reset window; ResetPassword consumes it.
		if err := s.flows.Put(ctx, FlowReset, user.ID, s.flowTTL); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("opening reset window: %w", err))
		}
		return &VerifyOTPResult{OK: true}, nil

	default: // otp.PurposeVerify
		if err := s.verifyCode(ctx, id, ch, purpose, user, req.OTP, ip); err != nil {
			return nil, err
		}
		if err := s.repo.SetChannelVerified(ctx, user.ID, ch); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("marking channel verified: %w", err))
		}
		s.audit.Record(audit.Entry{
			UserID:     user.ID,
			Identifier: id.String(),
			Action:     audit.ActionChannelVerified,
			IP:         ip,
			Details:    map[string]any{"channel": ch.String()},
		})
		return &VerifyOTPResult{OK: true}, nil
	}
}

// completeLogin is the otp-pending state of the login flow. A missing
// marker means the credentials step never ran (or the window lapsed), so a
// correct code alone is refused. A block raised by this failure tears the
// marker down, forcing the flow back to credentials.
func (s *service) completeLogin(ctx context.Context, id otp.Identifier, ch otp.Channel, user *User, code, ip string) (*VerifyOTPResult, error) {
	if err := s.flows.Get(ctx, FlowLogin, user.ID); err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return nil, apperror.NewUnauthorized("no pending login, submit credentials first")
		}
		return nil, apperror.NewInternal(fmt.Errorf("reading login flow: %w", err))
	}

	if err := s.verifyCode(ctx, id, ch, otp.PurposeLogin, user, code, ip); err != nil {
		if apperror.SafeCode(err) == 429 {
			if delErr := s.flows.Delete(ctx, FlowLogin, user.ID); delErr != nil {
				slog.Warn("clearing login flow after block failed", slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	if err := s.flows.Delete(ctx, FlowLogin, user.ID); err != nil {
		slog.Warn("clearing completed login flow failed", slog.Any("error", err))
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	s.audit.Record(audit.Entry{
		UserID:     user.ID,
		Identifier: id.String(),
		Action:     audit.ActionLogin,
		IP:         ip,
		Details:    map[string]any{"channel": ch.String()},
	})

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return &VerifyOTPResult{OK: true, SessionToken: token, User: user}, nil
}

// ForgotPassword is the identify state of the reset flow. Unlike login it
// confirms whether the identifier exists: recovery is unusable without
// that feedback, and the captcha plus the ledger already gate enumeration.
func (s *service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest, ip string) (*OTPPending, error) {
	if err := s.captcha.RequireSolved(ctx, req.CaptchaSessionID); err != nil {
		return nil, err
	}

	_, user, err := s.resolveUser(ctx, req.Identifier, req.CountryCode)
	if err != nil {
		return nil, err
	}

	restrict := otp.Channel(strings.ToLower(strings.TrimSpace(req.Type)))
	if req.Type != "" && !restrict.Valid() {
		return nil, apperror.NewValidation("type", "type must be email or phone")
	}

	pending, err := s.issueCodesRestricted(ctx, user, otp.PurposeReset, restrict)
	if err != nil {
		return nil, err
	}

	return pending, nil
}

// ResetPassword is the reset state. It needs three things: an open reset
// window (proving the code step), a freshly solved captcha (one attempt,
// spent here), and a password meeting the strength policy. Existing
// sessions stay valid; only the credential changes.
func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest, ip string) error {
	if err := validatePasswordStrength(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword != req.Confirm {
		return apperror.NewValidation("confirm", "passwords do not match")
	}

	verdict, err := s.captcha.Verify(ctx, req.CaptchaSessionID, req.CaptchaAnswer)
	if err != nil {
		return err
	}
	if !verdict.Valid {
		return apperror.NewCaptchaFailed("wrong captcha answer", verdict.AttemptsLeft)
	}

	id, user, err := s.resolveUser(ctx, req.Identifier, req.CountryCode)
	if err != nil {
		return err
	}

	// The window is keyed by the account it was opened for, so it only
	// matches if the identifier still resolves to that same account.
	if err := s.flows.Get(ctx, FlowReset, user.ID); err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return apperror.NewUnauthorized("reset window expired, verify a code first")
		}
		return apperror.NewInternal(fmt.Errorf("reading reset window: %w", err))
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	if err := s.flows.Delete(ctx, FlowReset, user.ID); err != nil {
		slog.Warn("clearing reset window failed", slog.Any("error", err))
	}

	s.audit.Record(audit.Entry{
		UserID:     user.ID,
		Identifier: id.String(),
		Action:     audit.ActionPasswordReset,
		IP:         ip,
	})

	slog.Info("password reset", slog.String("user_id", user.ID))

	return nil
}

// ValidateSession looks up a session token and returns the session data if
// it exists and hasn't expired.
func (s *service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}

	session, err := s.sessions.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading session: %w", err))
	}

	return session, nil
}

// Logout destroys the session, logging the user out.
func (s *service) Logout(ctx context.Context, token string, ip string) error {
	session, err := s.ValidateSession(ctx, token)
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, token); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting session: %w", err))
	}

	s.audit.Record(audit.Entry{
		UserID:     session.UserID,
		Identifier: session.Email,
		Action:     audit.ActionLogout,
		IP:         ip,
	})

	return nil
}

// GetUser returns the account behind a user ID.
func (s *service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	return user, nil
}

// --- Flow helpers ---

// resolveUser turns a submitted identifier into the ledger key and the
// account it names. Identifiers containing "@" are emails; anything else is
// a phone number and needs the country code.
func (s *service) resolveUser(ctx context.Context, identifier, countryCode string) (otp.Identifier, *User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", nil, apperror.NewValidation("identifier", "identifier is required")
	}

	if strings.Contains(identifier, "@") {
		id := otp.EmailIdentifier(identifier)
		user, err := s.repo.FindByEmail(ctx, id.String())
		if err != nil {
			return id, nil, asAppError(err, "finding user by email")
		}
		return id, user, nil
	}

	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		return "", nil, apperror.NewValidation("countryCode", "country code is required with a phone identifier")
	}
	id := otp.PhoneIdentifier(countryCode, identifier)
	user, err := s.repo.FindByPhone(ctx, countryCode, identifier)
	if err != nil {
		return id, nil, asAppError(err, "finding user by phone")
	}
	return id, user, nil
}

// verifyCode runs one code through the otp service and records the audit
// trail for failures and blocks.
func (s *service) verifyCode(ctx context.Context, id otp.Identifier, ch otp.Channel, purpose otp.Purpose, user *User, code, ip string) error {
	err := s.otp.Verify(ctx, id, ch, purpose, code)
	if err == nil {
		return nil
	}

	switch apperror.SafeCode(err) {
	case 429:
		s.audit.Record(audit.Entry{
			UserID:     user.ID,
			Identifier: id.String(),
			Action:     audit.ActionBlocked,
			IP:         ip,
			Details:    map[string]any{"channel": ch.String(), "purpose": purpose.String()},
		})
	case 400:
		s.audit.Record(audit.Entry{
			UserID:     user.ID,
			Identifier: id.String(),
			Action:     audit.ActionLoginFailed,
			IP:         ip,
			Details:    map[string]any{"reason": "wrong_otp", "purpose": purpose.String()},
		})
	}
	return err
}

// issueCodes sends a purpose-scoped code to every channel the account has.
func (s *service) issueCodes(ctx context.Context, user *User, purpose otp.Purpose) (*OTPPending, error) {
	return s.issueCodesRestricted(ctx, user, purpose, "")
}

// issueCodesRestricted sends codes to the account's channels, optionally
// restricted to one. The two channels are ledger-tracked independently: as
// long as one of them accepts the send, the flow proceeds. Only when every
// eligible channel refuses does the caller see the first channel's error.
func (s *service) issueCodesRestricted(ctx context.Context, user *User, purpose otp.Purpose, restrict otp.Channel) (*OTPPending, error) {
	pending := &OTPPending{ExpiresIn: int(s.otpTTL / time.Second)}
	var firstErr error
	sent := 0

	tryChannel := func(ch otp.Channel) {
		id, destination, err := channelTarget(user, ch)
		if err != nil {
			return // account has no such channel
		}
		if _, err := s.otp.Send(ctx, id, ch, purpose, destination); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("otp issue refused",
				slog.String("channel", ch.String()),
				slog.String("purpose", purpose.String()),
				slog.Any("error", err),
			)
			return
		}
		sent++
		pending.Channels = append(pending.Channels, ch.String())
		if ch == otp.ChannelEmail {
			pending.MaskedEmail = otp.MaskDestination(ch, destination)
		} else {
			pending.MaskedPhone = otp.MaskDestination(ch, destination)
		}
	}

	if restrict == "" || restrict == otp.ChannelEmail {
		tryChannel(otp.ChannelEmail)
	}
	if restrict == "" || restrict == otp.ChannelPhone {
		tryChannel(otp.ChannelPhone)
	}

	if sent == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, apperror.NewBadRequest("account has no channel to deliver a code to")
	}

	return pending, nil
}

// sendVerificationCodes fires the signup verification sub-flows without
// failing the signup on refusal.
func (s *service) sendVerificationCodes(ctx context.Context, user *User) {
	if _, err := s.issueCodes(ctx, user, otp.PurposeVerify); err != nil {
		slog.Warn("signup verification codes not issued",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
}

// createSession opens a session for the user with the configured TTL.
func (s *service) createSession(ctx context.Context, user *User) (string, error) {
	return s.sessions.Create(ctx, Session{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: time.Now().UTC(),
	}, s.sessionTTL)
}

// channelTarget returns the ledger identifier and destination address for
// one of the account's channels.
func channelTarget(user *User, ch otp.Channel) (otp.Identifier, string, error) {
	switch ch {
	case otp.ChannelEmail:
		return otp.EmailIdentifier(user.Email), user.Email, nil
	case otp.ChannelPhone:
		if user.Phone == "" {
			return "", "", apperror.NewBadRequest("account has no phone number")
		}
		return otp.PhoneIdentifier(user.CountryCode, user.Phone), user.CountryCode + user.Phone, nil
	}
	return "", "", apperror.NewValidation("channel", "channel must be email or phone")
}

// asAppError passes AppErrors through and wraps anything else as internal.
func asAppError(err error, op string) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}

// allPhoneDigits reports whether s consists solely of ASCII digits.
func allPhoneDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
