package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/sanitize"
)

// codeDigits is the length of an emailed login code.
const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// resendKeyPrefix scopes the resend throttle to a user.
const resendKeyPrefix = "otp-resend:"

// generateCode returns a uniformly random zero-padded six-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// issueChallenge replaces any active challenge of the user with a new one,
// emails its code, and points the login context at it. If the email cannot
// be sent the new challenge is deleted again so no undeliverable code stays
// active. action is the event published on success.
func (s *authService) issueChallenge(ctx context.Context, action string, user *User, origin Origin, loginToken string, remember bool) (*Challenge, error) {
	if err := s.challenges.ExpireActive(ctx, user.ID); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("expiring previous challenges: %w", err))
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating code: %w", err))
	}

	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing code: %w", err))
	}

	now := s.now()
	ch := &Challenge{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		CodeHash:    codeHash,
		IPAddress:   sanitize.Truncate(origin.IP, 45),
		UserAgent:   sanitize.Field(origin.UserAgent, 255),
		Location:    sanitize.Field(s.locator.Locate(ctx, origin.IP), 255),
		MaxAttempts: s.settings.OTPMaxAttempts,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.settings.OTPTTL),
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("storing challenge: %w", err))
	}

	mail := codeMail{
		Name:     sanitize.PlainText(user.DisplayName),
		Code:     code,
		Minutes:  int(s.settings.OTPTTL.Minutes()),
		IP:       ch.IPAddress,
		Location: ch.Location,
		Device:   ch.UserAgent,
	}
	if err := s.mailer.SendMail(ctx, []string{user.Email}, codeMailSubject, mail.body()); err != nil {
		if delErr := s.challenges.Delete(ctx, ch.ID); delErr != nil {
			slog.Error("failed to delete undeliverable challenge",
				slog.String("challenge_id", ch.ID),
				slog.Any("error", delErr),
			)
		}
		slog.Error("failed to send login code",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return nil, errDeliveryFailed(fmt.Errorf("sending login code: %w", err))
	}

	lc := &LoginContext{
		UserID:      user.ID,
		ChallengeID: ch.ID,
		Remember:    remember,
		CreatedAt:   now,
	}
	if err := s.store.SaveLoginContext(ctx, loginToken, lc, s.settings.PendingLoginTTL); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("saving login context: %w", err))
	}

	s.publish(ctx, action, user, "", origin, map[string]any{
		"challenge_id": ch.ID,
		"location":     ch.Location,
	})
	slog.Info("login code issued",
		slog.String("user_id", user.ID),
		slog.String("challenge_id", ch.ID),
	)

	return ch, nil
}

// PendingLogin returns the login context stored under loginToken, or nil
// when there is none.
func (s *authService) PendingLogin(ctx context.Context, loginToken string) (*LoginContext, error) {
	if loginToken == "" {
		return nil, nil
	}
	lc, err := s.store.GetLoginContext(ctx, loginToken)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading login context: %w", err))
	}
	return lc, nil
}

// pendingIdentity loads the login context and its user. A missing context
// is SessionExpired; a context whose user is gone is InvalidSession.
func (s *authService) pendingIdentity(ctx context.Context, loginToken string) (*LoginContext, *User, error) {
	lc, err := s.PendingLogin(ctx, loginToken)
	if err != nil {
		return nil, nil, err
	}
	if lc == nil || lc.UserID == "" || lc.ChallengeID == "" {
		return nil, nil, errSessionExpired()
	}

	user, err := s.users.FindByID(ctx, lc.UserID)
	if apperror.IsType(err, "not_found") {
		return nil, nil, errInvalidSession()
	}
	if err != nil {
		return nil, nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	return lc, user, nil
}

// VerifyOTP checks the submitted code against the challenge referenced by
// the login context. Wrong codes and successful consumption are both
// conditional updates, so two concurrent submissions can never both
// succeed and attempts never exceed the limit.
func (s *authService) VerifyOTP(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	lc, user, err := s.pendingIdentity(ctx, input.LoginToken)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(input.Code)
	if len(code) != codeDigits || strings.Trim(code, "0123456789") != "" {
		return nil, apperror.NewValidation("Enter the 6-digit code from your email.").WithField("code")
	}

	ch, err := s.challenges.FindByID(ctx, lc.ChallengeID)
	if apperror.IsType(err, "not_found") {
		return nil, errInvalidSession()
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("finding challenge: %w", err))
	}

	now := s.now()
	if ch.UserID != user.ID || !ch.IsActive(now) {
		return nil, errChallengeInvalid()
	}

	if !s.hasher.Verify(code, ch.CodeHash) {
		ok, err := s.challenges.IncrementAttempts(ctx, ch.ID, now)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("recording wrong code: %w", err))
		}
		if !ok {
			return nil, errChallengeInvalid()
		}

		updated, err := s.challenges.FindByID(ctx, ch.ID)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("re-reading challenge: %w", err))
		}
		s.publish(ctx, ActionCodeFailed, user, "", input.Origin, map[string]any{
			"challenge_id":  ch.ID,
			"attempts_left": updated.AttemptsLeft(),
		})
		return nil, errWrongCode(updated.AttemptsLeft())
	}

	ok, err := s.challenges.Consume(ctx, ch.ID, now)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("consuming challenge: %w", err))
	}
	if !ok {
		return nil, errChallengeInvalid()
	}

	return s.finalizeLogin(ctx, user, lc, input.LoginToken, input.PreviousSession, input.Origin)
}

// ResendOTP issues a new code for the pending login, replacing the
// challenge reference and keeping the remember choice.
func (s *authService) ResendOTP(ctx context.Context, loginToken string, origin Origin) error {
	lc, user, err := s.pendingIdentity(ctx, loginToken)
	if err != nil {
		return err
	}

	key := resendKeyPrefix + user.ID
	tooMany, err := s.limiter.TooManyAttempts(ctx, key, s.settings.ResendMaxAttempts)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("checking resend throttle: %w", err))
	}
	if tooMany {
		wait, err := s.limiter.AvailableIn(ctx, key)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("reading resend throttle: %w", err))
		}
		return errThrottled("code", wait)
	}

	if _, err := s.issueChallenge(ctx, ActionCodeResent, user, origin, loginToken, lc.Remember); err != nil {
		return err
	}

	// Only delivered codes count against the resend allowance.
	if _, err := s.limiter.Hit(ctx, key, s.settings.ResendDecay); err != nil {
		slog.Warn("failed to record resend",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	return nil
}
