package auth

import (
	"context"
	"fmt"
	"strings"
)

// MailSender delivers plain-text email. Satisfied by smtp.MailService.
type MailSender interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

const (
	codeMailSubject  = "Your Pipeline verification code"
	resetMailSubject = "Reset your Pipeline password"
)

// codeMail is the data for a login code email.
type codeMail struct {
	Name     string
	Code     string
	Minutes  int
	IP       string
	Location string
	Device   string
}

func (m codeMail) body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", m.Name)
	fmt.Fprintf(&b, "Your verification code is: %s\n\n", m.Code)
	fmt.Fprintf(&b, "The code expires in %d minutes.\n\n", m.Minutes)
	b.WriteString("Sign-in attempt details:\n")
	if m.IP != "" {
		fmt.Fprintf(&b, "  IP address: %s\n", m.IP)
	}
	if m.Location != "" {
		fmt.Fprintf(&b, "  Location:   %s\n", m.Location)
	}
	if m.Device != "" {
		fmt.Fprintf(&b, "  Device:     %s\n", m.Device)
	}
	b.WriteString("\nIf you did not try to sign in, change your password right away.\n")
	return b.String()
}

// resetMail is the data for a password reset email.
type resetMail struct {
	Name    string
	Link    string
	Minutes int
}

func (m resetMail) body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", m.Name)
	b.WriteString("We received a request to reset the password for your Pipeline account.\n\n")
	fmt.Fprintf(&b, "Reset your password: %s\n\n", m.Link)
	fmt.Fprintf(&b, "This link expires in %d minutes.\n\n", m.Minutes)
	b.WriteString("If you did not request a password reset, no further action is required.\n")
	return b.String()
}
