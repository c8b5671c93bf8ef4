package roles

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/apperror"
	"github.com/bazarhub/bazarhub/internal/plugins/auth"
)

// Handler handles HTTP requests for role applications. Handlers are thin:
// bind request, call service, render response.
type Handler struct {
	service Service
}

// NewHandler creates a new roles handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Submit files a role application (POST /roles/:role). The role comes from
// the path: /roles/admin, /roles/employee, /roles/shopkeeper.
func (h *Handler) Submit(c echo.Context) error {
	role := auth.Role(c.Param("role"))

	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	app, err := h.service.Submit(c.Request().Context(), auth.GetUserID(c), role, req, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, app)
}

// Mine returns the caller's application history (GET /roles/mine).
func (h *Handler) Mine(c echo.Context) error {
	apps, err := h.service.Mine(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return err
	}

	if apps == nil {
		apps = []Application{}
	}
	return c.JSON(http.StatusOK, apps)
}

// Pending returns the admin review queue (GET /roles/pending).
func (h *Handler) Pending(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	apps, total, err := h.service.Pending(c.Request().Context(), page)
	if err != nil {
		return err
	}

	if apps == nil {
		apps = []Application{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"applications": apps,
		"total":        total,
		"page":         page,
		"perPage":      pendingPerPage,
	})
}

// Review decides a pending application
// (POST /roles/applications/:id/review).
func (h *Handler) Review(c echo.Context) error {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	app, err := h.service.Review(c.Request().Context(), auth.GetUserID(c), c.Param("id"), req.Approve, c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, app)
}
