package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/pipeline/internal/middleware"
)

// Handler serves the admin security log. Handlers are thin: bind request,
// call service, render response.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// Activity renders the security log (GET /admin/audit). Supports
// ?page=, ?action= and ?email= filters.
func (h *Handler) Activity(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	filter := Filter{Action: c.QueryParam("action"), Email: c.QueryParam("email")}

	ctx := c.Request().Context()
	entries, total, err := h.service.Activity(ctx, filter, page)
	if err != nil {
		return err
	}
	stats, err := h.service.Stats(ctx)
	if err != nil {
		return err
	}

	return middleware.Render(c, http.StatusOK, ActivityPage(ActivityPageData{
		Entries: entries,
		Stats:   stats,
		Filter:  filter,
		Page:    page,
		Total:   total,
		PerPage: perPage,
	}))
}

// UserHistory returns one account's recent events as JSON
// (GET /admin/audit/users/:id).
func (h *Handler) UserHistory(c echo.Context) error {
	entries, err := h.service.UserHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}
