package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/middleware"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// The flow endpoints are public -- the session middleware is exported
// separately for other plugins to guard their own route groups.
//
// POST endpoints are rate-limited per IP to blunt credential stuffing and
// OTP probing before they even reach the attempt ledger.
func RegisterRoutes(e *echo.Echo, h *Handler, service Service) {
	g := e.Group("/auth")

	// Public flow endpoints.
	g.POST("/signup", h.Signup, middleware.RateLimit(5, time.Minute))
	g.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	g.POST("/send-otp", h.SendOTP, middleware.RateLimit(10, time.Minute))
	g.POST("/verify-otp", h.VerifyOTP, middleware.RateLimit(20, time.Minute))
	g.POST("/forgot-password", h.ForgotPassword, middleware.RateLimit(5, time.Minute))
	g.POST("/verify-reset-otp", h.VerifyResetOTP, middleware.RateLimit(20, time.Minute))
	g.POST("/reset-password", h.ResetPassword, middleware.RateLimit(5, time.Minute))

	// Session-holder endpoints.
	g.POST("/logout", h.Logout, RequireAuth(service))
	g.GET("/me", h.Me, RequireAuth(service))
}
