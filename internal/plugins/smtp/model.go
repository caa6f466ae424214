// Package smtp delivers Pipeline's outbound email (login codes and password
// reset links). SMTP settings live in a singleton database row managed by
// site admins. The encrypted password is NEVER returned to the UI, only a
// boolean indicating whether one is configured.
package smtp

import (
	"net/mail"
	"strings"
	"time"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// Encryption modes.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

const (
	defaultPort     = 587
	defaultFromName = "Pipeline"
)

// Settings is the admin-facing view of the SMTP configuration.
type Settings struct {
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	HasPassword bool      `json:"has_password"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name"`
	Encryption  string    `json:"encryption"`
	Enabled     bool      `json:"enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// settingsRow is the stored row including the sealed password.
type settingsRow struct {
	Host              string
	Port              int
	Username          string
	PasswordEncrypted []byte
	FromAddress       string
	FromName          string
	Encryption        string
	Enabled           bool
	UpdatedAt         time.Time
}

func (r *settingsRow) toSettings() *Settings {
	return &Settings{
		Host:        r.Host,
		Port:        r.Port,
		Username:    r.Username,
		HasPassword: len(r.PasswordEncrypted) > 0,
		FromAddress: r.FromAddress,
		FromName:    r.FromName,
		Encryption:  r.Encryption,
		Enabled:     r.Enabled,
		UpdatedAt:   r.UpdatedAt,
	}
}

// ready reports whether mail can be sent with this row.
func (r *settingsRow) ready() bool {
	return r.Enabled && r.Host != "" && r.FromAddress != ""
}

// UpdateRequest holds the settings form. An empty Password keeps the stored one.
type UpdateRequest struct {
	Host        string `form:"host"`
	Port        int    `form:"port"`
	Username    string `form:"username"`
	Password    string `form:"password"`
	FromAddress string `form:"from_address"`
	FromName    string `form:"from_name"`
	Encryption  string `form:"encryption"`
	Enabled     bool   `form:"enabled"`
}

// normalize trims the form and fills defaults.
func (r UpdateRequest) normalize() UpdateRequest {
	r.Host = strings.TrimSpace(r.Host)
	r.Username = strings.TrimSpace(r.Username)
	r.FromAddress = strings.TrimSpace(r.FromAddress)
	r.FromName = strings.TrimSpace(r.FromName)
	r.Encryption = strings.ToLower(strings.TrimSpace(r.Encryption))
	if r.Port == 0 {
		r.Port = defaultPort
	}
	if r.FromName == "" {
		r.FromName = defaultFromName
	}
	if r.Encryption == "" {
		r.Encryption = EncryptionStartTLS
	}
	return r
}

// validate returns the first field error, or nil.
func (r UpdateRequest) validate() error {
	switch {
	case r.Port < 1 || r.Port > 65535:
		return apperror.NewValidation("Port must be between 1 and 65535.").WithField("port")
	case r.Encryption != EncryptionStartTLS && r.Encryption != EncryptionSSL && r.Encryption != EncryptionNone:
		return apperror.NewValidation("Encryption must be starttls, ssl or none.").WithField("encryption")
	case strings.ContainsAny(r.FromName, "\r\n"):
		return apperror.NewValidation("From name may not contain line breaks.").WithField("from_name")
	case r.Enabled && r.Host == "":
		return apperror.NewValidation("A host is required to enable email.").WithField("host")
	case r.Enabled && r.FromAddress == "":
		return apperror.NewValidation("A from address is required to enable email.").WithField("from_address")
	}
	if r.FromAddress != "" {
		if _, err := mail.ParseAddress(r.FromAddress); err != nil {
			return apperror.NewValidation("From address must be a valid email address.").WithField("from_address")
		}
	}
	return nil
}
