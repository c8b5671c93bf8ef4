package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for the audit log. Handlers are thin:
// bind request, call service, render response. No business logic lives here.
type Handler struct {
	service Service
}

// NewHandler creates a new audit handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List returns the paginated audit feed (GET /audit). Supports ?page=,
// ?action= and ?userId= filters. Admin only via route middleware.
func (h *Handler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	filter := ListFilter{
		Action: c.QueryParam("action"),
		UserID: c.QueryParam("userId"),
	}

	entries, total, err := h.service.List(c.Request().Context(), filter, page)
	if err != nil {
		return err
	}

	if entries == nil {
		entries = []Entry{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    page,
		"perPage": perPage,
	})
}
