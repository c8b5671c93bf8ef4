package captcha

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/middleware"
)

// RegisterRoutes sets up captcha routes on the given Echo instance. Both
// endpoints are public; generation is IP rate-limited so a bot cannot mint
// challenges fast enough to brute-force the answer space elsewhere.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/captcha/generate", h.Generate, middleware.RateLimit(30, time.Minute))
	e.POST("/captcha/verify", h.Verify, middleware.RateLimit(30, time.Minute))
}
