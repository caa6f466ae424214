package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// Error types returned by the auth service. Clients switch on these.
const (
	TypeThrottled          = "throttled"
	TypeInvalidCredentials = "invalid_credentials"
	TypeSessionExpired     = "session_expired"
	TypeInvalidSession     = "invalid_session"
	TypeChallengeInvalid   = "challenge_invalid"
	TypeWrongCode          = "wrong_code"
	TypeInvalidToken       = "invalid_token"
	TypeTokenExpired       = "token_expired"
	TypeDeliveryFailed     = "delivery_failed"
)

// Detail keys carried on AppError.Details.
const (
	detailRetryAfter   = "retry_after"
	detailAttemptsLeft = "attempts_left"
)

func errThrottled(field string, retryAfter time.Duration) *apperror.AppError {
	e := apperror.NewTooManyRequests("", retryAfter)
	e.Type = TypeThrottled
	e.Message = fmt.Sprintf("Too many attempts. Please try again in %d seconds.", e.Details[detailRetryAfter])
	e.Field = field
	return e
}

func errInvalidCredentials() *apperror.AppError {
	return &apperror.AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeInvalidCredentials,
		Message: "These credentials do not match our records.",
		Field:   "email",
	}
}

func errSessionExpired() *apperror.AppError {
	return &apperror.AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeSessionExpired,
		Message: "Your sign-in session has expired. Please sign in again.",
	}
}

func errInvalidSession() *apperror.AppError {
	return &apperror.AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeInvalidSession,
		Message: "Your sign-in session is no longer valid. Please sign in again.",
	}
}

func errChallengeInvalid() *apperror.AppError {
	return &apperror.AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeChallengeInvalid,
		Message: "This code has expired or was already used. Request a new code.",
		Field:   "code",
	}
}

func errWrongCode(attemptsLeft int) *apperror.AppError {
	e := &apperror.AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeWrongCode,
		Message: "The code you entered is incorrect.",
		Field:   "code",
	}
	return e.WithDetail(detailAttemptsLeft, attemptsLeft)
}

func errInvalidToken() *apperror.AppError {
	return &apperror.AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeInvalidToken,
		Message: "This password reset link is invalid.",
		Field:   "email",
	}
}

func errTokenExpired() *apperror.AppError {
	return &apperror.AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeTokenExpired,
		Message: "This password reset link has expired. Please request a new one.",
		Field:   "email",
	}
}

func errDeliveryFailed(err error) *apperror.AppError {
	return &apperror.AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     TypeDeliveryFailed,
		Message:  "We could not send your verification code. Please try again.",
		Internal: err,
	}
}

// RetryAfter returns the retry delay in seconds carried by a throttled error.
func RetryAfter(err error) (int, bool) {
	return detail(err, TypeThrottled, detailRetryAfter)
}

// AttemptsLeft returns the remaining attempts carried by a wrong-code error.
func AttemptsLeft(err error) (int, bool) {
	return detail(err, TypeWrongCode, detailAttemptsLeft)
}

func detail(err error, typ, key string) (int, bool) {
	appErr, ok := apperror.As(err)
	if !ok || appErr.Type != typ {
		return 0, false
	}
	v, ok := appErr.Details[key]
	return v, ok
}
