package smtp

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up SMTP admin routes on the admin group. The caller
// applies authentication and admin middleware to the group.
func RegisterRoutes(admin *echo.Group, h *Handler) {
	admin.GET("/smtp", h.Settings)
	admin.PUT("/smtp", h.UpdateSettings)
	admin.POST("/smtp", h.UpdateSettings)
	admin.POST("/smtp/test", h.TestConnection)
}
