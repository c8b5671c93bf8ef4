package roles

import (
	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/plugins/auth"
)

// RegisterRoutes sets up all role-application routes. Every route requires
// a valid session; the review queue additionally requires an approved
// admin.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.Service) {
	g := e.Group("/roles", auth.RequireAuth(authSvc))

	g.GET("/mine", h.Mine)
	g.POST("/:role", h.Submit)

	admin := g.Group("", auth.RequireAdmin(authSvc))
	admin.GET("/pending", h.Pending)
	admin.POST("/applications/:id/review", h.Review)
}
