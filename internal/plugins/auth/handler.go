package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// Handler handles HTTP requests for authentication. Handlers are thin: they
// bind the request, call the service, and render the JSON response. No
// business logic lives here.
type Handler struct {
	service Service
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Signup creates an account (POST /auth/signup).
func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.Signup(c.Request().Context(), req, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

// Login runs the credentials step (POST /auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	pending, err := h.service.Login(c.Request().Context(), req, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pending)
}

// SendOTP (re)issues a one-time code (POST /auth/send-otp).
func (h *Handler) SendOTP(c echo.Context) error {
	var req SendOTPRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.SendOTP(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"remainingAttempts": result.AttemptsLeft,
	})
}

// VerifyOTP checks a one-time code (POST /auth/verify-otp).
func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.VerifyOTP(c.Request().Context(), req, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ForgotPassword runs the identify step of the reset flow
// (POST /auth/forgot-password).
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	pending, err := h.service.ForgotPassword(c.Request().Context(), req, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pending)
}

// VerifyResetOTP checks a reset code and opens the reset window
// (POST /auth/verify-reset-otp). Same contract as VerifyOTP with the
// purpose pinned.
func (h *Handler) VerifyResetOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	req.Purpose = "reset"

	result, err := h.service.VerifyOTP(c.Request().Context(), req, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// ResetPassword completes the reset flow (POST /auth/reset-password).
func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.ResetPassword(c.Request().Context(), req, c.RealIP()); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// Logout destroys the current session (POST /auth/logout).
func (h *Handler) Logout(c echo.Context) error {
	if err := h.service.Logout(c.Request().Context(), BearerToken(c), c.RealIP()); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// Me returns the authenticated account (GET /auth/me).
func (h *Handler) Me(c echo.Context) error {
	user, err := h.service.GetUser(c.Request().Context(), GetUserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, user)
}
