package smtp

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/pipeline/internal/templates/layouts"
)

// SettingsPageData drives the SMTP settings page.
type SettingsPageData struct {
	CSRFToken string
	Settings  *Settings
	Field     string
	Error     string
	Success   string
}

// SettingsPage renders the admin SMTP form.
func SettingsPage(d SettingsPageData) templ.Component {
	return layouts.Base("Email settings", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		s := d.Settings
		if s == nil {
			s = &Settings{Port: defaultPort, FromName: defaultFromName, Encryption: EncryptionStartTLS}
		}

		h.Raw(`<div class="card"><h1>Email settings</h1>`)
		h.Alert("error", d.Error).Alert("success", d.Success)

		h.Raw(`<form method="post" action="/admin/smtp">`).CSRF(d.CSRFToken)
		input := func(label, name, typ, value string) {
			h.Raw(`<label for="` + name + `">` + label + `</label>`)
			h.Raw(`<input id="` + name + `" name="` + name + `" type="` + typ + `"`).Attr("value", value)
			if d.Field == name {
				h.Raw(` aria-invalid="true"`)
			}
			h.Raw(`>`)
		}
		input("Host", "host", "text", s.Host)
		input("Port", "port", "number", strconv.Itoa(s.Port))
		input("Username", "username", "text", s.Username)

		h.Raw(`<label for="password">Password</label><input id="password" name="password" type="password" autocomplete="new-password"`)
		if s.HasPassword {
			h.Raw(` placeholder="Saved (leave blank to keep)"`)
		}
		h.Raw(`>`)

		input("From address", "from_address", "email", s.FromAddress)
		input("From name", "from_name", "text", s.FromName)

		h.Raw(`<label for="encryption">Encryption</label><select id="encryption" name="encryption">`)
		for _, mode := range []string{EncryptionStartTLS, EncryptionSSL, EncryptionNone} {
			h.Raw(`<option`).Attr("value", mode)
			if s.Encryption == mode {
				h.Raw(` selected`)
			}
			h.Raw(`>`).Text(mode).Raw(`</option>`)
		}
		h.Raw(`</select>`)

		h.Raw(`<label><input type="checkbox" name="enabled" value="true"`)
		if s.Enabled {
			h.Raw(` checked`)
		}
		h.Raw(`> Send email</label>`)
		h.Raw(`<button class="primary" type="submit">Save</button></form>`)

		h.Raw(`<form method="post" action="/admin/smtp/test">`).CSRF(d.CSRFToken)
		h.Raw(`<button type="submit">Test connection</button></form></div>`)
		return h.Err()
	}))
}
