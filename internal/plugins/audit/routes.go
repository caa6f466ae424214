package audit

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the security log on the admin group. The caller
// applies authentication and admin middleware to the group.
func RegisterRoutes(admin *echo.Group, h *Handler) {
	admin.GET("/audit", h.Activity)
	admin.GET("/audit/users/:id", h.UserHistory)
}
