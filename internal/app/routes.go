package app

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bazarhub/bazarhub/internal/plugins/audit"
	"github.com/bazarhub/bazarhub/internal/plugins/auth"
	"github.com/bazarhub/bazarhub/internal/plugins/captcha"
	"github.com/bazarhub/bazarhub/internal/plugins/otp"
	"github.com/bazarhub/bazarhub/internal/plugins/roles"
)

// RegisterRoutes constructs every plugin's stores, services, and handlers,
// and registers their routes. This is the single aggregation point: when a
// new plugin is added, it is wired here.
func (a *App) RegisterRoutes() {
	e := a.Echo
	pol := a.Config.Auth

	// --- Plugin wiring, leaf-first ---

	auditSvc := audit.NewService(audit.NewRepository(a.DB))

	captchaSvc := captcha.NewService(
		captcha.NewRedisStore(a.Redis, pol.CaptchaMaxAttempts, pol.CaptchaSolvedGrace),
		pol.CaptchaTTL,
	)

	otpSvc := otp.NewService(
		otp.NewRedisLedger(a.Redis, otp.Policy{
			MaxSends:       pol.MaxOTPSends,
			MaxFailures:    pol.MaxOTPFailures,
			MaxResends:     pol.MaxResends,
			ResendCooldown: pol.ResendCooldown,
			BlockDuration:  pol.BlockDuration,
			OTPTTL:         pol.OTPTTL,
		}),
		otp.NewRedisChallengeStore(a.Redis),
		otp.NewLogSender(),
		pol.OTPTTL,
	)

	authSvc := auth.NewService(
		auth.NewUserRepository(a.DB),
		auth.NewRedisSessionStore(a.Redis),
		auth.NewRedisFlowStore(a.Redis),
		captchaSvc,
		otpSvc,
		auditSvc,
		pol.SessionTTL,
		pol.OTPTTL,
		pol.PendingFlowTTL,
	)

	rolesSvc := roles.NewService(roles.NewRepository(a.DB), auditSvc)

	// --- Routes ---

	e.GET("/healthz", a.healthz)

	captcha.RegisterRoutes(e, captcha.NewHandler(captchaSvc))
	auth.RegisterRoutes(e, auth.NewHandler(authSvc), authSvc)
	roles.RegisterRoutes(e, roles.NewHandler(rolesSvc), authSvc)
	audit.RegisterRoutes(e, audit.NewHandler(auditSvc),
		auth.RequireAuth(authSvc), auth.RequireAdmin(authSvc))
}

// healthz reports liveness of the process and its two backing stores.
// Degraded dependencies turn the whole check 503 so orchestrators restart
// or reroute.
func (a *App) healthz(c echo.Context) error {
	ctx := c.Request().Context()

	status := http.StatusOK
	checks := map[string]string{"db": "ok", "redis": "ok"}

	if err := a.DB.PingContext(ctx); err != nil {
		checks["db"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status": http.StatusText(status),
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	return c.JSON(status, body)
}
