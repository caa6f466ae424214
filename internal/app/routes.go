package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pipeline/internal/middleware"
	"github.com/keyxmakerx/pipeline/internal/plugins/audit"
	"github.com/keyxmakerx/pipeline/internal/plugins/auth"
	"github.com/keyxmakerx/pipeline/internal/plugins/smtp"
	"github.com/keyxmakerx/pipeline/internal/templates/layouts"
	"github.com/keyxmakerx/pipeline/internal/templates/pages"
)

// healthTimeout bounds each dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. This is the single place
// where plugin routes are aggregated.
func (a *App) RegisterRoutes() {
	e := a.Echo

	middleware.LayoutInjector = injectLayout

	// --- Public Routes ---

	e.GET("/healthz", a.healthz)
	auth.RegisterRoutes(e, a.authHandler, a.Config.Auth.HTTPRateLimit)

	// --- Authenticated Routes ---

	requireAuth := auth.RequireAuth(a.Auth)

	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, "/dashboard")
	})
	e.GET("/dashboard", func(c echo.Context) error {
		return middleware.Render(c, http.StatusOK, pages.Dashboard())
	}, requireAuth)

	// --- Admin Routes ---

	admin := e.Group("/admin", requireAuth, auth.RequireAdmin())
	smtp.RegisterRoutes(admin, a.smtpHandler)
	audit.RegisterRoutes(admin, a.auditHandler)
}

// injectLayout copies the session and CSRF token into the template context.
func injectLayout(c echo.Context, ctx context.Context) context.Context {
	ctx = layouts.SetCSRFToken(ctx, middleware.GetCSRFToken(c))
	ctx = layouts.SetActivePath(ctx, c.Path())

	session := auth.GetSession(c)
	if session == nil {
		return layouts.SetIsAuthenticated(ctx, false)
	}
	ctx = layouts.SetIsAuthenticated(ctx, true)
	ctx = layouts.SetUserName(ctx, session.Name)
	ctx = layouts.SetUserEmail(ctx, session.Email)
	return layouts.SetIsAdmin(ctx, session.IsAdmin)
}

// healthz pings MariaDB and Redis. Any failure yields 503 so container
// health checks restart or drain the instance.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		slog.Warn("health check: database unreachable", slog.Any("error", err))
		status["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		slog.Warn("health check: redis unreachable", slog.Any("error", err))
		status["redis"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	return c.JSON(code, status)
}
