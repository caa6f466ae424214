package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORS returns middleware that lets the listed origins call the JSON
// sign-in endpoints with credentials, e.g. a separately hosted frontend.
// Same-origin requests carry no Origin header and pass straight through.
// Wildcards are not supported because credentials are always allowed.
func CORS(allowedOrigins []string) echo.MiddlewareFunc {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" && o != "*" {
			originSet[o] = true
		}
	}

	allowMethods := strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions,
	}, ", ")
	allowHeaders := strings.Join([]string{
		"Content-Type", "Accept", csrfHeaderName, "X-Requested-With",
	}, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			origin := req.Header.Get("Origin")

			if origin == "" || !originSet[origin] {
				// The browser blocks the response for unlisted origins.
				return next(c)
			}

			res.Header().Set("Access-Control-Allow-Origin", origin)
			res.Header().Set("Access-Control-Allow-Credentials", "true")
			res.Header().Add("Vary", "Origin")

			if req.Method == http.MethodOptions {
				res.Header().Set("Access-Control-Allow-Methods", allowMethods)
				res.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				res.Header().Set("Access-Control-Max-Age", "3600")
				return c.NoContent(http.StatusNoContent)
			}

			res.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
			return next(c)
		}
	}
}
