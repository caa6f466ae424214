package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// finalizeLogin opens a session under a brand-new token. The login token
// and any session the browser held before are never reused, which rules
// out session fixation.
func (s *authService) finalizeLogin(ctx context.Context, user *User, lc *LoginContext, loginToken, previousSession string, origin Origin) (*VerifyResult, error) {
	ttl := s.settings.SessionTTL
	if lc.Remember {
		ttl = s.settings.RememberTTL
	}

	now := s.now()
	token, err := s.store.CreateSession(ctx, &Session{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.DisplayName,
		IsAdmin:   user.IsAdmin,
		Remember:  lc.Remember,
		CreatedAt: now,
	}, ttl)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	if previousSession != "" && previousSession != token {
		if err := s.store.DeleteSession(ctx, previousSession); err != nil {
			slog.Warn("failed to destroy previous session", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	if err := s.store.DeleteLoginContext(ctx, loginToken); err != nil {
		slog.Warn("failed to delete login context", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	s.publish(ctx, ActionLoginSucceeded, user, "", origin, map[string]any{"remember": lc.Remember})
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return &VerifyResult{SessionToken: token, TTL: ttl, User: user}, nil
}

// ValidateSession looks up a session token and returns the session data if
// it exists and hasn't expired.
func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading session: %w", err))
	}
	if session == nil {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	return session, nil
}

// Logout destroys the session and any pending login held by the browser.
func (s *authService) Logout(ctx context.Context, sessionToken, loginToken string, origin Origin) error {
	if sessionToken != "" {
		session, err := s.store.GetSession(ctx, sessionToken)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("reading session: %w", err))
		}
		if err := s.store.DeleteSession(ctx, sessionToken); err != nil {
			return apperror.NewInternal(fmt.Errorf("destroying session: %w", err))
		}
		if session != nil {
			s.publish(ctx, ActionLogout, &User{ID: session.UserID, Email: session.Email}, "", origin, nil)
		}
	}
	if loginToken != "" {
		if err := s.store.DeleteLoginContext(ctx, loginToken); err != nil {
			return apperror.NewInternal(fmt.Errorf("destroying login context: %w", err))
		}
	}
	return nil
}
