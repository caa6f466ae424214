package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"unicode/utf8"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/sanitize"
)

// Password rules for resets and bootstrap accounts.
const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// Reset and remember tokens are drawn from this 64-symbol URL-safe alphabet.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

const (
	resetTokenLength    = 64
	rememberTokenLength = 60
)

// randomString returns n symbols from tokenAlphabet. The alphabet has 64
// entries, so masking a random byte to six bits is unbiased.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = tokenAlphabet[b[i]&63]
	}
	return string(b), nil
}

// RequestPasswordReset emails a reset link when the email belongs to an
// account. Both paths do one lookup and one argon2 hash before returning;
// storing the token and sending the email happen after the response, so
// neither the outcome nor its timing reveals whether an account exists.
func (s *authService) RequestPasswordReset(ctx context.Context, email string, origin Origin) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperror.NewValidation("The email field is required.").WithField("email")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperror.NewValidation("The email must be a valid email address.").WithField("email")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !apperror.IsType(err, "not_found") {
			slog.Error("password reset lookup failed", slog.Any("error", err))
		}
		// Same hashing cost as newResetToken.
		_, _ = s.hasher.Hash(email)
		return nil
	}

	token, hash, err := s.newResetToken()
	if err != nil {
		slog.Error("password reset request failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return nil
	}

	s.detach(ctx, func(ctx context.Context) {
		if err := s.sendResetLink(ctx, user, token, hash); err != nil {
			slog.Error("password reset request failed",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
			return
		}
		s.publish(ctx, ActionPasswordResetRequested, user, "", origin, nil)
		slog.Info("password reset requested", slog.String("user_id", user.ID))
	})
	return nil
}

// newResetToken returns a fresh token and its argon2id hash.
func (s *authService) newResetToken() (token, hash string, err error) {
	token, err = randomString(resetTokenLength)
	if err != nil {
		return "", "", fmt.Errorf("generating reset token: %w", err)
	}
	hash, err = s.hasher.Hash(token)
	if err != nil {
		return "", "", fmt.Errorf("hashing reset token: %w", err)
	}
	return token, hash, nil
}

// sendResetLink replaces the stored token for the user and emails the link.
func (s *authService) sendResetLink(ctx context.Context, user *User, token, hash string) error {
	if err := s.resetTokens.Upsert(ctx, user.Email, hash, s.now()); err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}

	link := fmt.Sprintf("%s/reset-password/%s?email=%s",
		s.settings.BaseURL, token, url.QueryEscape(user.Email))
	body := resetMail{
		Name:    sanitize.PlainText(user.DisplayName),
		Link:    link,
		Minutes: int(s.settings.PasswordResetTTL.Minutes()),
	}.body()

	if err := s.mailer.SendMail(ctx, []string{user.Email}, resetMailSubject, body); err != nil {
		return fmt.Errorf("sending reset email: %w", err)
	}
	return nil
}

// validateReset returns the first field error in the reset form.
func validateReset(in ResetInput) error {
	switch {
	case in.Token == "":
		return errInvalidToken()
	case normalizeEmail(in.Email) == "":
		return apperror.NewValidation("The email field is required.").WithField("email")
	case in.Password == "":
		return apperror.NewValidation("The password field is required.").WithField("password")
	case utf8.RuneCountInString(in.Password) < minPasswordLength:
		return apperror.NewValidation(fmt.Sprintf("The password must be at least %d characters.", minPasswordLength)).WithField("password")
	case utf8.RuneCountInString(in.Password) > maxPasswordLength:
		return apperror.NewValidation(fmt.Sprintf("The password may not be greater than %d characters.", maxPasswordLength)).WithField("password")
	case in.Password != in.Confirm:
		return apperror.NewValidation("The password confirmation does not match.").WithField("password")
	}
	return nil
}

// ResetPassword consumes the reset token for the email and sets the new
// password. The token row is deleted with a conditional DELETE, so a token
// can be redeemed at most once even under concurrent submissions.
func (s *authService) ResetPassword(ctx context.Context, in ResetInput, origin Origin) error {
	if err := validateReset(in); err != nil {
		return err
	}
	email := normalizeEmail(in.Email)

	stored, err := s.resetTokens.FindByEmail(ctx, email)
	if apperror.IsType(err, "not_found") {
		s.dummyVerify(in.Token)
		return errInvalidToken()
	}
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding reset token: %w", err))
	}

	if !s.hasher.Verify(in.Token, stored.TokenHash) {
		return errInvalidToken()
	}

	if s.now().After(stored.CreatedAt.Add(s.settings.PasswordResetTTL)) {
		if err := s.resetTokens.Delete(ctx, email); err != nil {
			slog.Warn("failed to delete expired reset token", slog.Any("error", err))
		}
		return errTokenExpired()
	}

	ok, err := s.resetTokens.DeleteMatching(ctx, email, stored.TokenHash)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("consuming reset token: %w", err))
	}
	if !ok {
		return errInvalidToken()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if apperror.IsType(err, "not_found") {
		return errInvalidToken()
	}
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	remember, err := randomString(rememberTokenLength)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("generating remember token: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, remember); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	s.publish(ctx, ActionPasswordReset, user, "", origin, nil)
	slog.Info("password reset", slog.String("user_id", user.ID))
	return nil
}
