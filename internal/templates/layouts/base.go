package layouts

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Base wraps body in the HTML document shell: head, top navigation and
// main container. Navigation reflects the session data injected into ctx.
func Base(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := NewHTML(w)
		h.Raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.Raw(`<title>`).Text(title).Raw(` | Pipeline</title>`)
		h.Raw(`<style>` + baseCSS + `</style></head><body>`)

		h.Raw(`<nav class="topbar"><a class="brand" href="/">Pipeline</a>`)
		if IsAuthenticated(ctx) {
			h.Raw(`<a href="/dashboard">Dashboard</a>`)
			if GetIsAdmin(ctx) {
				h.Raw(`<a href="/admin/smtp">Email</a><a href="/admin/audit">Security log</a>`)
			}
			h.Raw(`<span class="who">`).Text(GetUserName(ctx)).Raw(`</span>`)
			h.Raw(`<form method="post" action="/logout" class="inline">`)
			h.CSRF(GetCSRFToken(ctx))
			h.Raw(`<button type="submit">Sign out</button></form>`)
		} else {
			h.Raw(`<a href="/login">Sign in</a>`)
		}
		h.Raw(`</nav><main>`)
		if h.Err() != nil {
			return h.Err()
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		h.Raw(`</main></body></html>`)
		return h.Err()
	})
}

// HTML is a small sticky-error writer for hand-built components. Text is
// escaped with templ's escaper; Raw is written verbatim.
type HTML struct {
	w   io.Writer
	err error
}

// NewHTML creates a writer over w.
func NewHTML(w io.Writer) *HTML {
	return &HTML{w: w}
}

// Raw writes trusted markup.
func (h *HTML) Raw(s string) *HTML {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
	return h
}

// Text writes s HTML-escaped.
func (h *HTML) Text(s string) *HTML {
	return h.Raw(templ.EscapeString(s))
}

// Attr writes name="value" with the value escaped, preceded by a space.
func (h *HTML) Attr(name, value string) *HTML {
	return h.Raw(` ` + name + `="`).Text(value).Raw(`"`)
}

// CSRF writes the hidden CSRF form field.
func (h *HTML) CSRF(token string) *HTML {
	return h.Raw(`<input type="hidden" name="csrf_token"`).Attr("value", token).Raw(`>`)
}

// Alert writes a message box of the given kind ("error" or "success") when
// msg is non-empty.
func (h *HTML) Alert(kind, msg string) *HTML {
	if msg == "" {
		return h
	}
	return h.Raw(`<div class="alert alert-` + kind + `" role="alert">`).Text(msg).Raw(`</div>`)
}

// Err returns the first write error.
func (h *HTML) Err() error {
	return h.err
}

const baseCSS = `body{font-family:system-ui,sans-serif;margin:0;background:#f5f6f8;color:#1f2430}
.topbar{display:flex;gap:1rem;align-items:center;padding:.75rem 1.5rem;background:#1f2430}
.topbar a,.topbar .who{color:#fff;text-decoration:none}.topbar .brand{font-weight:700;margin-right:auto}
.topbar button{background:none;border:1px solid #fff;color:#fff;border-radius:4px;cursor:pointer}
main{max-width:960px;margin:2rem auto;padding:0 1rem}
.card{background:#fff;border-radius:8px;padding:1.5rem;box-shadow:0 1px 3px rgba(0,0,0,.1);max-width:420px;margin:0 auto}
label{display:block;margin:.75rem 0 .25rem}input[type=email],input[type=password],input[type=text],input[type=number],select{width:100%;padding:.5rem;box-sizing:border-box}
button.primary{margin-top:1rem;padding:.5rem 1rem;background:#3b5bdb;color:#fff;border:0;border-radius:4px;cursor:pointer}
.alert{padding:.75rem;border-radius:4px;margin-bottom:1rem}.alert-error{background:#ffe3e3}.alert-success{background:#d3f9d8}
.field-error{color:#c92a2a;font-size:.875rem}.inline{display:inline}.hidden{display:none}
table{width:100%;border-collapse:collapse;background:#fff}th,td{padding:.5rem;border-bottom:1px solid #e9ecef;text-align:left;font-size:.875rem}`
