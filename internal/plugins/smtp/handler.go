package smtp

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/middleware"
)

// Handler serves the admin SMTP settings page. All routes require the
// site admin middleware.
type Handler struct {
	service SettingsService
}

// NewHandler creates a new SMTP handler.
func NewHandler(service SettingsService) *Handler {
	return &Handler{service: service}
}

// Settings renders the settings page (GET /admin/smtp).
func (h *Handler) Settings(c echo.Context) error {
	return h.render(c, http.StatusOK, SettingsPageData{})
}

// UpdateSettings saves the form (PUT or POST /admin/smtp).
func (h *Handler) UpdateSettings(c echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if err := h.service.UpdateSettings(c.Request().Context(), req); err != nil {
		appErr, ok := apperror.As(err)
		if !ok || appErr.Code >= http.StatusInternalServerError {
			return err
		}
		return h.render(c, appErr.Code, SettingsPageData{Field: appErr.Field, Error: appErr.Message})
	}
	return h.render(c, http.StatusOK, SettingsPageData{Success: "Settings saved."})
}

// TestConnection checks the saved settings (POST /admin/smtp/test).
func (h *Handler) TestConnection(c echo.Context) error {
	if err := h.service.TestConnection(c.Request().Context()); err != nil {
		appErr, ok := apperror.As(err)
		if !ok || appErr.Code >= http.StatusInternalServerError {
			return err
		}
		return h.render(c, http.StatusOK, SettingsPageData{Error: appErr.Message})
	}
	return h.render(c, http.StatusOK, SettingsPageData{Success: "Connection successful."})
}

func (h *Handler) render(c echo.Context, status int, data SettingsPageData) error {
	settings, err := h.service.GetSettings(c.Request().Context())
	if err != nil {
		return err
	}
	data.Settings = settings
	data.CSRFToken = middleware.GetCSRFToken(c)
	return middleware.Render(c, status, SettingsPage(data))
}
