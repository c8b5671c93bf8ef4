package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/apperror"
)

// Context keys for storing session data in Echo context. Other plugins
// use these keys (via the exported getter functions below) to access
// the authenticated user's information.
const (
	contextKeySession = "auth_session"
	contextKeyUserID  = "auth_user_id"
)

// RequireAuth returns middleware that validates the bearer token from the
// Authorization header and injects session data into the request context.
// Missing or invalid tokens get a 401 via the central error handler.
func RequireAuth(service Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c)
			if token == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			session, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				return err
			}

			// Store session data in context for downstream handlers.
			c.Set(contextKeySession, session)
			c.Set(contextKeyUserID, session.UserID)

			return next(c)
		}
	}
}

// RequireAdmin returns middleware that allows only approved admins past.
// The role is re-read from the database, not trusted from the session, so
// a role change takes effect without waiting for sessions to expire.
// Must run after RequireAuth.
func RequireAdmin(service Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := GetUserID(c)
			if userID == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			user, err := service.GetUser(c.Request().Context(), userID)
			if err != nil {
				return err
			}
			if user.Role != RoleAdmin || user.RoleStatus != RoleStatusApproved {
				return apperror.NewForbidden("admin access required")
			}

			return next(c)
		}
	}
}

// BearerToken extracts the opaque token from the Authorization header.
// Returns empty string when the header is missing or not a bearer scheme.
func BearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// --- Exported getters for other plugins ---

// GetSession retrieves the authenticated session from the Echo context.
// Returns nil if the request is not authenticated (middleware not applied).
func GetSession(c echo.Context) *Session {
	session, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return session
}

// GetUserID retrieves the authenticated user's ID from the Echo context.
// Returns empty string if the request is not authenticated.
func GetUserID(c echo.Context) string {
	id, ok := c.Get(contextKeyUserID).(string)
	if !ok {
		return ""
	}
	return id
}
