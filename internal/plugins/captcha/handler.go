package captcha

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// Handler handles HTTP requests for CAPTCHA challenges. Handlers are thin:
// they bind the request, call the service, and render the response. No
// business logic lives here.
type Handler struct {
	service Service
}

// NewHandler creates a new captcha handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Generate issues a fresh challenge (GET /captcha/generate).
func (h *Handler) Generate(c echo.Context) error {
	resp, err := h.service.Generate(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Verify checks an answer against a challenge (POST /captcha/verify).
func (h *Handler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	resp, err := h.service.Verify(c.Request().Context(), req.SessionID, req.Answer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
