package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// errNotConfigured is returned by SendMail when email is disabled.
var errNotConfigured = errors.New("smtp is not configured")

// MailService is the contract other plugins use to send email. The auth
// plugin's MailSender is satisfied by it.
type MailService interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

// SettingsService extends MailService with admin settings management.
type SettingsService interface {
	MailService

	// GetSettings returns the configuration with the password redacted.
	GetSettings(ctx context.Context) (*Settings, error)

	// UpdateSettings saves the form. An empty password keeps the stored one.
	UpdateSettings(ctx context.Context, req UpdateRequest) error

	// TestConnection dials the server and authenticates with the saved settings.
	TestConnection(ctx context.Context) error
}

// Options tunes the mail service.
type Options struct {
	// LogOnly logs the recipient and subject instead of failing while SMTP
	// is unconfigured. Only for local development.
	LogOnly bool

	// LogBodies adds the message body to LogOnly output. Bodies carry login
	// codes and reset links, so config refuses it outside development.
	LogBodies bool
}

type mailService struct {
	repo      SettingsRepository
	sealer    *sealer
	transport transport
	opts      Options
	now       func() time.Time
}

// NewMailService creates the SMTP-backed mail service. secretKey seals the
// stored SMTP password.
func NewMailService(repo SettingsRepository, secretKey string, opts Options) (SettingsService, error) {
	return newMailService(repo, secretKey, opts, netTransport{timeout: 10 * time.Second})
}

func newMailService(repo SettingsRepository, secretKey string, opts Options, t transport) (*mailService, error) {
	s, err := newSealer(secretKey)
	if err != nil {
		return nil, fmt.Errorf("initializing smtp credentials: %w", err)
	}
	return &mailService{
		repo:      repo,
		sealer:    s,
		transport: t,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SendMail sends a plain-text message with the stored settings. The
// password is decrypted per send and never cached.
func (s *mailService) SendMail(ctx context.Context, to []string, subject, body string) error {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("loading smtp settings: %w", err)
	}

	if !row.ready() {
		if s.opts.LogOnly {
			attrs := []any{slog.Any("to", to), slog.String("subject", subject)}
			if s.opts.LogBodies {
				attrs = append(attrs, slog.String("body", body))
			}
			slog.Warn("smtp not configured, logging email instead", attrs...)
			return nil
		}
		return errNotConfigured
	}

	from := mail.Address{Name: row.FromName, Address: row.FromAddress}
	msg, err := buildMessage(from, to, subject, body, s.now(), uuid.NewString())
	if err != nil {
		return err
	}

	cfg, err := s.dialConfig(row)
	if err != nil {
		return err
	}

	if err := s.transport.Send(ctx, cfg, from.Address, to, msg); err != nil {
		return fmt.Errorf("sending mail via %s: %w", cfg.addr(), err)
	}
	slog.Debug("email sent", slog.Int("recipients", len(to)), slog.String("subject", subject))
	return nil
}

func (s *mailService) dialConfig(row *settingsRow) (dialConfig, error) {
	password, err := s.sealer.open(row.PasswordEncrypted)
	if err != nil {
		return dialConfig{}, fmt.Errorf("decrypting smtp password: %w", err)
	}
	return dialConfig{
		Host:       row.Host,
		Port:       row.Port,
		Username:   row.Username,
		Password:   string(password),
		Encryption: row.Encryption,
	}, nil
}

// buildMessage renders an RFC 5322 message. Header values containing line
// breaks are rejected so callers cannot inject headers.
func buildMessage(from mail.Address, to []string, subject, body string, date time.Time, id string) ([]byte, error) {
	if len(to) == 0 {
		return nil, errors.New("no recipients")
	}
	if strings.ContainsAny(subject, "\r\n") {
		return nil, errors.New("subject contains a line break")
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") {
			return nil, errors.New("recipient contains a line break")
		}
	}

	domain := "localhost"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", id, domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String()), nil
}

// --- Admin management ---

// GetSettings returns the settings with the password redacted.
func (s *mailService) GetSettings(ctx context.Context) (*Settings, error) {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading smtp settings: %w", err))
	}
	return row.toSettings(), nil
}

// UpdateSettings validates and saves the form.
func (s *mailService) UpdateSettings(ctx context.Context, req UpdateRequest) error {
	req = req.normalize()
	if err := req.validate(); err != nil {
		return err
	}

	current, err := s.repo.Get(ctx)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("loading smtp settings: %w", err))
	}

	row := &settingsRow{
		Host:              req.Host,
		Port:              req.Port,
		Username:          req.Username,
		PasswordEncrypted: current.PasswordEncrypted,
		FromAddress:       req.FromAddress,
		FromName:          req.FromName,
		Encryption:        req.Encryption,
		Enabled:           req.Enabled,
	}
	if req.Password != "" {
		sealed, err := s.sealer.seal([]byte(req.Password))
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("encrypting smtp password: %w", err))
		}
		row.PasswordEncrypted = sealed
	}

	if err := s.repo.Save(ctx, row); err != nil {
		return apperror.NewInternal(err)
	}

	slog.Info("smtp settings updated",
		slog.String("host", row.Host),
		slog.Int("port", row.Port),
		slog.String("encryption", row.Encryption),
		slog.Bool("enabled", row.Enabled),
	)
	return nil
}

// TestConnection dials, negotiates TLS and authenticates without sending.
func (s *mailService) TestConnection(ctx context.Context) error {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("loading smtp settings: %w", err))
	}
	if row.Host == "" {
		return apperror.NewBadRequest("SMTP host is not configured")
	}

	cfg, err := s.dialConfig(row)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if err := s.transport.Probe(ctx, cfg); err != nil {
		return apperror.NewBadRequest(fmt.Sprintf("Connection to %s failed: %v", cfg.addr(), err))
	}
	return nil
}
