package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	gosmtp "net/smtp"
	"strconv"
	"time"
)

// dialConfig is everything needed to open an SMTP session.
type dialConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string
}

func (c dialConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// transport opens SMTP sessions. Swapped out in tests.
type transport interface {
	Send(ctx context.Context, cfg dialConfig, from string, to []string, msg []byte) error
	Probe(ctx context.Context, cfg dialConfig) error
}

// netTransport speaks SMTP over TCP with net/smtp.
type netTransport struct {
	timeout time.Duration
}

func (t netTransport) Send(ctx context.Context, cfg dialConfig, from string, to []string, msg []byte) error {
	client, err := t.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

func (t netTransport) Probe(ctx context.Context, cfg dialConfig) error {
	client, err := t.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// open dials, upgrades to TLS per the encryption mode and authenticates.
// The whole exchange is bounded by the context deadline or t.timeout.
func (t netTransport) open(ctx context.Context, cfg dialConfig) (*gosmtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{}

	var conn net.Conn
	var err error
	if cfg.Encryption == EncryptionSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", cfg.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := gosmtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	if cfg.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" {
		// PlainAuth refuses to send credentials over an unencrypted
		// connection to a remote host.
		if err := client.Auth(gosmtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}
	return client, nil
}
