package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/middleware"
)

// Cookie names. The login cookie only identifies a pending sign-in; it
// never grants access on its own.
const (
	sessionCookieName = "pipeline_session"
	loginCookieName   = "pipeline_login"
)

// Handler handles HTTP requests for sign-in, sign-out and password reset.
// Handlers are thin: they bind the request, call the service, and render the
// response. No business logic lives here.
type Handler struct {
	service       AuthService
	secureCookies bool
}

// NewHandler creates a new auth handler. secureCookies forces the Secure
// flag even when TLS terminates at a proxy that does not forward the scheme.
func NewHandler(service AuthService, secureCookies bool) *Handler {
	return &Handler{service: service, secureCookies: secureCookies}
}

// originOf extracts the client origin from the request.
func originOf(c echo.Context) Origin {
	return Origin{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

// LoginForm renders the sign-in page (GET /login).
func (h *Handler) LoginForm(c echo.Context) error {
	ctx := c.Request().Context()
	if token := readCookie(c, sessionCookieName); token != "" {
		if _, err := h.service.ValidateSession(ctx, token); err == nil {
			return c.Redirect(http.StatusSeeOther, "/dashboard")
		}
	}

	data := LoginPageData{CSRFToken: middleware.GetCSRFToken(c)}
	if c.QueryParam("status") == "password-reset" {
		data.Status = "Your password has been reset. You can now sign in."
	}
	if lc, err := h.service.PendingLogin(ctx, readCookie(c, loginCookieName)); err == nil && lc != nil {
		data.PendingOTP = true
	}

	return middleware.Render(c, http.StatusOK, LoginPage(data))
}

// Login checks credentials and emails a code (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return h.jsonError(c, apperror.NewBadRequest("invalid request"))
	}

	result, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Remember: req.Remember,
		Origin:   originOf(c),
	})
	if err != nil {
		return h.jsonError(c, err)
	}

	h.setCookie(c, loginCookieName, result.LoginToken, result.TTL)
	return c.JSON(http.StatusOK, map[string]any{"requires_otp": result.RequiresOTP})
}

// VerifyOTP checks the emailed code and opens the session (POST /login/otp).
func (h *Handler) VerifyOTP(c echo.Context) error {
	var req OTPRequest
	if err := c.Bind(&req); err != nil {
		return h.jsonError(c, apperror.NewBadRequest("invalid request"))
	}

	result, err := h.service.VerifyOTP(c.Request().Context(), VerifyInput{
		LoginToken:      readCookie(c, loginCookieName),
		Code:            req.Code,
		PreviousSession: readCookie(c, sessionCookieName),
		Origin:          originOf(c),
	})
	if err != nil {
		if apperror.IsType(err, TypeSessionExpired) || apperror.IsType(err, TypeInvalidSession) {
			h.clearCookie(c, loginCookieName)
		}
		return h.jsonError(c, err)
	}

	h.setCookie(c, sessionCookieName, result.SessionToken, result.TTL)
	h.clearCookie(c, loginCookieName)
	return c.JSON(http.StatusOK, map[string]string{"redirect": "/dashboard"})
}

// ResendOTP emails a fresh code for the pending sign-in (POST /login/otp/resend).
func (h *Handler) ResendOTP(c echo.Context) error {
	err := h.service.ResendOTP(c.Request().Context(), readCookie(c, loginCookieName), originOf(c))
	if err != nil {
		if apperror.IsType(err, TypeSessionExpired) || apperror.IsType(err, TypeInvalidSession) {
			h.clearCookie(c, loginCookieName)
		}
		return h.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "A new verification code has been sent to your email.",
	})
}

// Logout destroys the session and clears the cookies (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	err := h.service.Logout(c.Request().Context(),
		readCookie(c, sessionCookieName), readCookie(c, loginCookieName), originOf(c))
	if err != nil {
		// The cookies are cleared regardless.
		slog.Warn("logout failed", slog.Any("error", err))
	}

	h.clearCookie(c, sessionCookieName)
	h.clearCookie(c, loginCookieName)

	if middleware.IsHTMX(c) {
		c.Response().Header().Set("HX-Redirect", "/")
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// --- Password Reset ---

// forgotPasswordSent is shown for every well-formed request, whether or not
// the email belongs to an account.
const forgotPasswordSent = "If an account exists for that email, we have sent a password reset link."

// ForgotPasswordForm renders the reset request page (GET /forgot-password).
func (h *Handler) ForgotPasswordForm(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, ForgotPasswordPage(ForgotPasswordPageData{
		CSRFToken: middleware.GetCSRFToken(c),
	}))
}

// ForgotPassword handles the reset request (POST /forgot-password).
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	data := ForgotPasswordPageData{CSRFToken: middleware.GetCSRFToken(c)}
	if err := h.service.RequestPasswordReset(c.Request().Context(), req.Email, originOf(c)); err != nil {
		data.Email = req.Email
		data.Error = apperror.SafeMessage(err)
		return middleware.Render(c, apperror.SafeCode(err), ForgotPasswordPage(data))
	}

	data.Sent = forgotPasswordSent
	return middleware.Render(c, http.StatusOK, ForgotPasswordPage(data))
}

// ResetPasswordForm renders the new password page (GET /reset-password/:token).
func (h *Handler) ResetPasswordForm(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, ResetPasswordPage(ResetPasswordPageData{
		CSRFToken: middleware.GetCSRFToken(c),
		Token:     c.Param("token"),
		Email:     c.QueryParam("email"),
	}))
}

// ResetPassword sets the new password (POST /reset-password).
func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	err := h.service.ResetPassword(c.Request().Context(), ResetInput{
		Token:    req.Token,
		Email:    req.Email,
		Password: req.Password,
		Confirm:  req.Confirm,
	}, originOf(c))
	if err != nil {
		appErr, ok := apperror.As(err)
		if !ok || appErr.Code >= http.StatusInternalServerError {
			return err
		}
		return middleware.Render(c, appErr.Code, ResetPasswordPage(ResetPasswordPageData{
			CSRFToken: middleware.GetCSRFToken(c),
			Token:     req.Token,
			Email:     req.Email,
			Field:     appErr.Field,
			Error:     appErr.Message,
		}))
	}

	if middleware.IsHTMX(c) {
		c.Response().Header().Set("HX-Redirect", "/login?status=password-reset")
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/login?status=password-reset")
}

// --- JSON errors ---

// jsonError writes err in the shape the sign-in script expects:
// {type, message, field?, retry_after?, attempts_left?}. Unexpected errors
// are logged and reported generically.
func (h *Handler) jsonError(c echo.Context, err error) error {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.NewInternal(err)
	}
	if appErr.Code >= http.StatusInternalServerError {
		slog.Error("auth request failed",
			slog.String("path", c.Request().URL.Path),
			slog.Any("error", err),
		)
	}

	body := map[string]any{
		"type":    appErr.Type,
		"message": appErr.Message,
	}
	if appErr.Field != "" {
		body["field"] = appErr.Field
	}
	for k, v := range appErr.Details {
		body[k] = v
	}
	if retry, ok := appErr.Details[detailRetryAfter]; ok {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
	}
	return c.JSON(appErr.Code, body)
}

// --- Cookie helpers ---

// readCookie returns the cookie value, or "".
func readCookie(c echo.Context, name string) string {
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setCookie sets an HttpOnly, SameSite=Lax cookie that lives for ttl.
func (h *Handler) setCookie(c echo.Context, name, value string, ttl time.Duration) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies || req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// clearCookie removes a cookie by setting MaxAge to -1.
func (h *Handler) clearCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
