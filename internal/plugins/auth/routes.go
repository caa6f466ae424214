package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pipeline/internal/middleware"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// Auth routes are public (no session required) -- RequireAuth is exported
// separately for other plugins to use on their route groups.
//
// POST endpoints share a per-IP request budget of perMinute requests per
// minute on top of the per-account throttles in the service.
func RegisterRoutes(e *echo.Echo, h *Handler, perMinute int) {
	limit := middleware.RateLimit(perMinute, time.Minute)

	e.GET("/login", h.LoginForm)
	e.POST("/login", h.Login, limit)
	e.POST("/login/otp", h.VerifyOTP, limit)
	e.POST("/login/otp/resend", h.ResendOTP, limit)
	e.POST("/logout", h.Logout)

	e.GET("/forgot-password", h.ForgotPasswordForm)
	e.POST("/forgot-password", h.ForgotPassword, limit)
	e.GET("/reset-password/:token", h.ResetPasswordForm)
	e.POST("/reset-password", h.ResetPassword, limit)
}
