// Package pages holds the standalone pages that belong to no plugin: the
// dashboard shown after sign-in and the generic error page.
package pages

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/pipeline/internal/templates/layouts"
)

// Dashboard greets the signed-in user.
func Dashboard() templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		h.Raw(`<div class="card"><h1>Welcome, `).Text(layouts.GetUserName(ctx)).Raw(`</h1>`)
		h.Raw(`<p>You are signed in as `).Text(layouts.GetUserEmail(ctx)).Raw(`.</p>`)
		if layouts.GetIsAdmin(ctx) {
			h.Raw(`<p><a href="/admin/smtp">Email settings</a> &middot; <a href="/admin/audit">Security log</a></p>`)
		}
		h.Raw(`</div>`)
		return h.Err()
	})
	return layouts.Base("Dashboard", body)
}

// ErrorPage renders a status code and a client-safe message.
func ErrorPage(code int, message string) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		h.Raw(`<div class="card"><h1>`).Text(strconv.Itoa(code)).Raw(` `).Text(http.StatusText(code)).Raw(`</h1>`)
		h.Raw(`<p>`).Text(message).Raw(`</p><p><a href="/">Back to Pipeline</a></p></div>`)
		return h.Err()
	})
	return layouts.Base(http.StatusText(code), body)
}
