package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// throttleKey scopes failed-credential counting to one email from one IP.
func throttleKey(email, ip string) string {
	return normalizeEmail(email) + "|" + ip
}

// Login validates the credentials and starts the code step. The throttle is
// consulted before the user store so a throttled caller learns nothing about
// the account.
func (s *authService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, apperror.NewValidation("The email field is required.").WithField("email")
	}
	if input.Password == "" {
		return nil, apperror.NewValidation("The password field is required.").WithField("password")
	}

	key := throttleKey(email, input.Origin.IP)

	tooMany, err := s.limiter.TooManyAttempts(ctx, key, s.settings.LoginMaxAttempts)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking login throttle: %w", err))
	}
	if tooMany {
		wait, err := s.limiter.AvailableIn(ctx, key)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("reading login throttle: %w", err))
		}
		s.publish(ctx, ActionLoginThrottled, nil, email, input.Origin, nil)
		return nil, errThrottled("email", wait)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !apperror.IsType(err, "not_found") {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	valid := false
	if user != nil {
		valid = s.hasher.Verify(input.Password, user.PasswordHash)
	} else {
		s.dummyVerify(input.Password)
	}

	if !valid {
		if _, err := s.limiter.Hit(ctx, key, s.settings.LoginDecay); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("recording failed login: %w", err))
		}
		s.publish(ctx, ActionLoginFailed, nil, email, input.Origin, nil)
		slog.Info("login failed", slog.String("email", email), slog.String("ip", input.Origin.IP))
		return nil, errInvalidCredentials()
	}

	if err := s.limiter.Clear(ctx, key); err != nil {
		slog.Warn("failed to clear login throttle", slog.String("email", email), slog.Any("error", err))
	}

	loginToken, err := newToken()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating login token: %w", err))
	}

	if _, err := s.issueChallenge(ctx, ActionCodeIssued, user, input.Origin, loginToken, input.Remember); err != nil {
		return nil, err
	}

	return &LoginResult{
		RequiresOTP: true,
		LoginToken:  loginToken,
		TTL:         s.settings.PendingLoginTTL,
	}, nil
}
