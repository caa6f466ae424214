package audit

import (
	"context"
	"io"
	"net/url"
	"strconv"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/pipeline/internal/plugins/auth"
	"github.com/keyxmakerx/pipeline/internal/templates/layouts"
)

// ActivityPageData drives the security log page.
type ActivityPageData struct {
	Entries []Entry
	Stats   *Stats
	Filter  Filter
	Page    int
	Total   int
	PerPage int
}

// actionLabels are the human-readable names of auth actions.
var actionLabels = map[string]string{
	auth.ActionLoginFailed:            "Wrong password",
	auth.ActionLoginThrottled:         "Sign-in throttled",
	auth.ActionCodeIssued:             "Code sent",
	auth.ActionCodeResent:             "Code resent",
	auth.ActionCodeFailed:             "Wrong code",
	auth.ActionLoginSucceeded:         "Signed in",
	auth.ActionLogout:                 "Signed out",
	auth.ActionPasswordResetRequested: "Reset requested",
	auth.ActionPasswordReset:          "Password reset",
}

func actionLabel(action string) string {
	if label, ok := actionLabels[action]; ok {
		return label
	}
	return action
}

// ActivityPage renders the security log with stats, filters and pagination.
func ActivityPage(d ActivityPageData) templ.Component {
	return layouts.Base("Security log", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		h.Raw(`<div class="card"><h1>Security log</h1>`)

		if s := d.Stats; s != nil {
			h.Raw(`<p class="stats">Last 24 hours: `).
				Text(strconv.Itoa(s.Logins)).Raw(` sign-ins, `).
				Text(strconv.Itoa(s.FailedLogins)).Raw(` failed attempts, `).
				Text(strconv.Itoa(s.Throttled)).Raw(` throttled.`)
			if s.LastEventAt != nil {
				h.Raw(` Last event `).Text(s.LastEventAt.UTC().Format("2006-01-02 15:04:05 UTC")).Raw(`.`)
			}
			h.Raw(`</p>`)
		}

		h.Raw(`<form method="get" action="/admin/audit" class="filters">`)
		h.Raw(`<select name="action"><option value="">All events</option>`)
		for _, action := range []string{
			auth.ActionLoginSucceeded, auth.ActionLoginFailed, auth.ActionLoginThrottled,
			auth.ActionCodeIssued, auth.ActionCodeResent, auth.ActionCodeFailed,
			auth.ActionLogout, auth.ActionPasswordResetRequested, auth.ActionPasswordReset,
		} {
			h.Raw(`<option`).Attr("value", action)
			if d.Filter.Action == action {
				h.Raw(` selected`)
			}
			h.Raw(`>`).Text(actionLabel(action)).Raw(`</option>`)
		}
		h.Raw(`</select>`)
		h.Raw(`<input type="email" name="email" placeholder="Email"`).Attr("value", d.Filter.Email).Raw(`>`)
		h.Raw(`<button type="submit">Filter</button></form>`)

		if len(d.Entries) == 0 {
			h.Raw(`<p>No events recorded.</p></div>`)
			return h.Err()
		}

		h.Raw(`<table><thead><tr><th>Time</th><th>Event</th><th>Account</th><th>IP</th><th>Details</th></tr></thead><tbody>`)
		for _, e := range d.Entries {
			h.Raw(`<tr><td>`).Text(e.CreatedAt.UTC().Format("2006-01-02 15:04:05")).
				Raw(`</td><td>`).Text(actionLabel(e.Action)).
				Raw(`</td><td>`).Text(e.Email)
			if e.UserName != "" {
				h.Raw(` <small>(`).Text(e.UserName).Raw(`)</small>`)
			}
			h.Raw(`</td><td>`).Text(e.IP).Raw(`</td><td>`)
			if loc, ok := e.Details["location"].(string); ok && loc != "" {
				h.Text(loc).Raw(`<br>`)
			}
			if ua, ok := e.Details["user_agent"].(string); ok {
				h.Raw(`<small>`).Text(ua).Raw(`</small>`)
			}
			h.Raw(`</td></tr>`)
		}
		h.Raw(`</tbody></table>`)

		pages := (d.Total + d.PerPage - 1) / d.PerPage
		if pages > 1 {
			h.Raw(`<nav class="pagination">`)
			if d.Page > 1 {
				h.Raw(`<a`).Attr("href", pageURL(d.Filter, d.Page-1)).Raw(`>Newer</a> `)
			}
			h.Raw(`<span>Page `).Text(strconv.Itoa(d.Page)).Raw(` of `).Text(strconv.Itoa(pages)).Raw(`</span>`)
			if d.Page < pages {
				h.Raw(` <a`).Attr("href", pageURL(d.Filter, d.Page+1)).Raw(`>Older</a>`)
			}
			h.Raw(`</nav>`)
		}
		h.Raw(`</div>`)
		return h.Err()
	}))
}

func pageURL(f Filter, page int) string {
	q := url.Values{}
	if f.Action != "" {
		q.Set("action", f.Action)
	}
	if f.Email != "" {
		q.Set("email", f.Email)
	}
	q.Set("page", strconv.Itoa(page))
	return "/admin/audit?" + q.Encode()
}
