// Package auth implements Pipeline's two-step sign-in: a password check
// guarded by a failed-attempt throttle, followed by a six-digit code sent by
// email. It also owns session lifecycle and the emailed password reset flow.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// User is a Pipeline account. PasswordHash and RememberToken never leave
// the server.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	PasswordHash  string     `json:"-"`
	RememberToken *string    `json:"-"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// Challenge is one emailed login code. Only the argon2id hash of the code is
// stored. Consumed and Expired are terminal.
type Challenge struct {
	ID           string
	UserID       string
	CodeHash     string
	IPAddress    string
	UserAgent    string
	Location     string
	Consumed     bool
	Expired      bool
	AttemptsUsed int
	MaxAttempts  int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// IsActive reports whether the challenge can still accept a code at now.
// The SQL guards in the challenge repository encode the same four
// conditions.
func (c *Challenge) IsActive(now time.Time) bool {
	return !c.Consumed &&
		!c.Expired &&
		c.AttemptsUsed < c.MaxAttempts &&
		now.Before(c.ExpiresAt)
}

// AttemptsLeft is the number of wrong codes still tolerated.
func (c *Challenge) AttemptsLeft() int {
	if left := c.MaxAttempts - c.AttemptsUsed; left > 0 {
		return left
	}
	return 0
}

// LoginContext links a browser that passed the password step to the user
// and the challenge it must answer. Stored in Redis under the login token.
type LoginContext struct {
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id"`
	Remember    bool      `json:"remember"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session represents an authenticated user session stored in Redis.
// The session token is the key, and this struct is the value (JSON-encoded).
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	Remember  bool      `json:"remember"`
	CreatedAt time.Time `json:"created_at"`
}

// ResetToken is the single outstanding password reset token for an email.
type ResetToken struct {
	Email     string
	TokenHash string
	CreatedAt time.Time
}

// Origin describes where a request came from. Recorded on challenges and
// audit events.
type Origin struct {
	IP        string
	UserAgent string
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the credentials posted by the login form.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Remember bool   `json:"remember" form:"remember"`
}

// OTPRequest holds the code posted by the verification step.
type OTPRequest struct {
	Code string `json:"code" form:"code"`
}

// ForgotPasswordRequest holds the email posted by the forgot-password form.
type ForgotPasswordRequest struct {
	Email string `form:"email"`
}

// ResetPasswordRequest holds the new password form.
type ResetPasswordRequest struct {
	Token    string `form:"token"`
	Email    string `form:"email"`
	Password string `form:"password"`
	Confirm  string `form:"password_confirmation"`
}

// --- Service Input/Output DTOs ---

// LoginInput is the input for the credential step.
type LoginInput struct {
	Email    string
	Password string
	Remember bool
	Origin   Origin
}

// LoginResult is returned when the password was accepted and a code has been
// emailed. LoginToken identifies the pending login; TTL bounds its cookie.
type LoginResult struct {
	RequiresOTP bool
	LoginToken  string
	TTL         time.Duration
}

// VerifyResult is returned when a code was accepted and a session created.
type VerifyResult struct {
	SessionToken string
	TTL          time.Duration
	User         *User
}

// ResetInput is the input for completing a password reset.
type ResetInput struct {
	Token    string
	Email    string
	Password string
	Confirm  string
}
