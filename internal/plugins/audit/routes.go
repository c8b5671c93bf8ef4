package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the audit routes on the given Echo instance. The
// caller supplies the guards (authentication plus admin check) so this
// plugin stays independent of how sessions and roles are implemented.
func RegisterRoutes(e *echo.Echo, h *Handler, guards ...echo.MiddlewareFunc) {
	g := e.Group("/audit", guards...)
	g.GET("", h.List)
}
