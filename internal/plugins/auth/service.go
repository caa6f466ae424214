package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/config"
	"github.com/keyxmakerx/pipeline/internal/geoip"
	"github.com/keyxmakerx/pipeline/internal/sanitize"
)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repositories directly.
type AuthService interface {
	// Login checks credentials and, on success, emails a login code.
	Login(ctx context.Context, input LoginInput) (*LoginResult, error)

	// VerifyOTP checks a login code and opens a session on success.
	VerifyOTP(ctx context.Context, input VerifyInput) (*VerifyResult, error)

	// ResendOTP issues a fresh code for the pending login.
	ResendOTP(ctx context.Context, loginToken string, origin Origin) error

	// PendingLogin returns the login context for a token, or nil.
	PendingLogin(ctx context.Context, loginToken string) (*LoginContext, error)

	ValidateSession(ctx context.Context, token string) (*Session, error)
	Logout(ctx context.Context, sessionToken, loginToken string, origin Origin) error

	// RequestPasswordReset emails a reset link if the account exists.
	// Returns an error only for malformed input.
	RequestPasswordReset(ctx context.Context, email string, origin Origin) error

	// ResetPassword consumes a reset token and sets a new password.
	ResetPassword(ctx context.Context, input ResetInput, origin Origin) error

	// EnsureUser creates the account unless the email is already taken.
	EnsureUser(ctx context.Context, email, displayName, password string, isAdmin bool) (*User, error)

	// Close waits for detached deliveries (reset emails) to finish or for
	// ctx to end.
	Close(ctx context.Context) error
}

// detachedTimeout bounds work that outlives the request, such as storing
// a reset token and sending its email.
const detachedTimeout = 30 * time.Second

// VerifyInput is the input for the code step. PreviousSession is any
// session token the browser already held; it is destroyed on success.
type VerifyInput struct {
	LoginToken      string
	Code            string
	PreviousSession string
	Origin          Origin
}

// Limiter counts failed attempts per key. Satisfied by *throttle.Limiter.
type Limiter interface {
	TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error)
	Hit(ctx context.Context, key string, decay time.Duration) (int64, error)
	Clear(ctx context.Context, key string) error
	AvailableIn(ctx context.Context, key string) (time.Duration, error)
}

// Settings holds the lifetimes and limits the auth flow enforces.
type Settings struct {
	BaseURL           string
	SessionTTL        time.Duration
	RememberTTL       time.Duration
	PendingLoginTTL   time.Duration
	OTPTTL            time.Duration
	OTPMaxAttempts    int
	LoginMaxAttempts  int
	LoginDecay        time.Duration
	ResendMaxAttempts int
	ResendDecay       time.Duration
	PasswordResetTTL  time.Duration
}

// SettingsFromConfig copies the auth settings out of the app config.
func SettingsFromConfig(cfg *config.Config) Settings {
	a := cfg.Auth
	return Settings{
		BaseURL:           cfg.BaseURL,
		SessionTTL:        a.SessionTTL,
		RememberTTL:       a.RememberTTL,
		PendingLoginTTL:   a.PendingLoginTTL,
		OTPTTL:            a.OTPTTL,
		OTPMaxAttempts:    a.OTPMaxAttempts,
		LoginMaxAttempts:  a.LoginMaxAttempts,
		LoginDecay:        a.LoginDecay,
		ResendMaxAttempts: a.ResendMaxAttempts,
		ResendDecay:       a.ResendDecay,
		PasswordResetTTL:  a.PasswordResetTTL,
	}
}

// Dependencies are the collaborators of the auth service. Events may be nil.
type Dependencies struct {
	Users       UserRepository
	Challenges  ChallengeRepository
	ResetTokens ResetTokenRepository
	Store       SessionStore
	Limiter     Limiter
	Mailer      MailSender
	Locator     geoip.Resolver
	Hasher      PasswordHasher
	Events      EventPublisher
}

// authService implements AuthService.
type authService struct {
	users       UserRepository
	challenges  ChallengeRepository
	resetTokens ResetTokenRepository
	store       SessionStore
	limiter     Limiter
	mailer      MailSender
	locator     geoip.Resolver
	hasher      PasswordHasher
	events      EventPublisher
	settings    Settings

	now          func() time.Time
	generateCode func() (string, error)

	dummyOnce sync.Once
	dummyHash string

	background sync.WaitGroup
}

// NewAuthService creates a new auth service with the given dependencies.
func NewAuthService(deps Dependencies, settings Settings) AuthService {
	return newAuthService(deps, settings)
}

func newAuthService(deps Dependencies, settings Settings) *authService {
	events := deps.Events
	if events == nil {
		events = nopPublisher{}
	}
	locator := deps.Locator
	if locator == nil {
		locator = geoip.Static("")
	}
	return &authService{
		users:        deps.Users,
		challenges:   deps.Challenges,
		resetTokens:  deps.ResetTokens,
		store:        deps.Store,
		limiter:      deps.Limiter,
		mailer:       deps.Mailer,
		locator:      locator,
		hasher:       deps.Hasher,
		events:       events,
		settings:     settings,
		now:          func() time.Time { return time.Now().UTC() },
		generateCode: generateCode,
	}
}

// EnsureUser creates a user unless one with the email already exists.
// Used to bootstrap the first admin account at startup.
func (s *authService) EnsureUser(ctx context.Context, email, displayName, password string, isAdmin bool) (*User, error) {
	email = normalizeEmail(email)
	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !apperror.IsType(err, "not_found") {
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if len(password) < minPasswordLength {
		return nil, apperror.NewValidation(fmt.Sprintf("password must be at least %d characters", minPasswordLength)).WithField("password")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  sanitize.Field(displayName, 100),
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.Bool("is_admin", user.IsAdmin),
	)
	return user, nil
}

func (s *authService) publish(ctx context.Context, action string, user *User, email string, origin Origin, details map[string]any) {
	ev := Event{
		Action:    action,
		Email:     email,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
		Details:   details,
		At:        s.now(),
	}
	if user != nil {
		ev.UserID = user.ID
		ev.Email = user.Email
	}
	s.events.Publish(ctx, ev)
}

// detach runs fn after the request returns, on a context that keeps the
// request's values but not its cancellation.
func (s *authService) detach(ctx context.Context, fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *authService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dummyVerify burns roughly the same CPU as a real password check so that
// unknown emails are not distinguishable by response time.
func (s *authService) dummyVerify(secret string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("pipeline-dummy-secret")
	})
	_ = s.hasher.Verify(secret, s.dummyHash)
}

// normalizeEmail lower-cases and trims an email for lookups and keys.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
