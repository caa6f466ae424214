// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, Echo instance)
// and wires the auth, smtp and audit plugins together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/config"
	"github.com/keyxmakerx/pipeline/internal/geoip"
	"github.com/keyxmakerx/pipeline/internal/middleware"
	"github.com/keyxmakerx/pipeline/internal/plugins/audit"
	"github.com/keyxmakerx/pipeline/internal/plugins/auth"
	"github.com/keyxmakerx/pipeline/internal/plugins/smtp"
	"github.com/keyxmakerx/pipeline/internal/templates/pages"
	"github.com/keyxmakerx/pipeline/internal/throttle"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Echo   *echo.Echo

	// Auth is the login/OTP/reset service. Exposed so main can bootstrap
	// the first admin account.
	Auth auth.AuthService

	authHandler  *auth.Handler
	smtpHandler  *smtp.Handler
	auditHandler *audit.Handler
}

// New creates the App, builds every plugin and configures the Echo server
// with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() feeds the login throttle and the audit log, so it must
	// only honor X-Forwarded-For from known proxies.
	middleware.TrustedProxies(e, cfg.HTTP.TrustedProxies)

	a := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
	}

	if err := a.wirePlugins(); err != nil {
		return nil, err
	}

	a.setupMiddleware()
	e.HTTPErrorHandler = a.errorHandler

	return a, nil
}

// wirePlugins builds repositories, services and handlers for each plugin.
func (a *App) wirePlugins() error {
	mail, err := smtp.NewMailService(
		smtp.NewSettingsRepository(a.DB),
		a.Config.Auth.SecretKey,
		smtp.Options{
			LogOnly:   a.Config.IsDevelopment(),
			LogBodies: a.Config.IsDevelopment() && a.Config.MailLogBodies,
		},
	)
	if err != nil {
		return fmt.Errorf("creating mail service: %w", err)
	}

	auditService := audit.NewAuditService(audit.NewAuditRepository(a.DB))

	var locator geoip.Resolver = geoip.Static("")
	if a.Config.GeoIP.URL != "" {
		locator = geoip.NewHTTPResolver(a.Config.GeoIP.URL, a.Config.GeoIP.Timeout, a.Redis, a.Config.GeoIP.CacheTTL)
	}

	a.Auth = auth.NewAuthService(auth.Dependencies{
		Users:       auth.NewUserRepository(a.DB),
		Challenges:  auth.NewChallengeRepository(a.DB),
		ResetTokens: auth.NewResetTokenRepository(a.DB),
		Store:       auth.NewRedisStore(a.Redis),
		Limiter:     throttle.New(a.Redis),
		Mailer:      mail,
		Locator:     locator,
		Hasher:      auth.NewArgon2Hasher(auth.DefaultArgon2Params),
		Events:      audit.NewAuthObserver(auditService),
	}, auth.SettingsFromConfig(a.Config))

	a.authHandler = auth.NewHandler(a.Auth, a.Config.IsSecure())
	a.smtpHandler = smtp.NewHandler(mail)
	a.auditHandler = audit.NewHandler(auditService)
	return nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: the request ID must exist before anything logs.
func (a *App) setupMiddleware() {
	secure := a.Config.IsSecure()

	a.Echo.Use(middleware.RequestID())
	a.Echo.Use(middleware.Recovery())
	a.Echo.Use(middleware.RequestLogger())
	a.Echo.Use(middleware.SecurityHeaders(secure))
	a.Echo.Use(middleware.CORS(a.Config.HTTP.CORSOrigins))
	a.Echo.Use(middleware.CSRF(secure))
}

// errorHandler maps AppErrors to HTTP responses: JSON for API and fetch
// callers, a rendered error page for browsers. Browser 401s go to /login.
func (a *App) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)
	var body *apperror.AppError

	if appErr, ok := apperror.As(err); ok {
		code = appErr.Code
		message = appErr.Message
		body = appErr
		if appErr.Internal != nil || code >= http.StatusInternalServerError {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Path()),
				slog.String("request_id", middleware.GetRequestID(c)),
			)
		}
		if seconds, ok := appErr.Details["retry_after"]; ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	} else {
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok && code < http.StatusInternalServerError {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Path()),
				slog.String("request_id", middleware.GetRequestID(c)),
			)
		}
	}

	if body == nil {
		body = &apperror.AppError{Code: code, Type: errorType(code), Message: message}
	}

	if wantsJSON(c) {
		_ = c.JSON(code, body)
		return
	}

	if middleware.IsHTMX(c) {
		if code == http.StatusUnauthorized {
			c.Response().Header().Set("HX-Redirect", "/login")
			_ = c.NoContent(http.StatusNoContent)
			return
		}
		c.Response().Header().Set("HX-Retarget", "body")
		c.Response().Header().Set("HX-Reswap", "innerHTML")
	}

	if code == http.StatusUnauthorized {
		_ = c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	if err := middleware.Render(c, code, pages.ErrorPage(code, message)); err != nil {
		slog.Error("rendering error page", slog.Any("error", err))
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP
// status codes when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to sign in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist or has been moved."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "Something went wrong on our end. Please try again."
	}
}

// errorType derives a machine-readable type for non-domain errors.
func errorType(code int) string {
	switch code {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	}
	if code >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "bad_request"
}

// wantsJSON reports whether the caller expects a JSON error body.
func wantsJSON(c echo.Context) bool {
	req := c.Request()
	return strings.HasPrefix(req.URL.Path, "/api/") ||
		strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) ||
		strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Pipeline server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}
