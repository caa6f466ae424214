package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/pipeline/internal/apperror"
	"github.com/keyxmakerx/pipeline/internal/geoip"
	"github.com/keyxmakerx/pipeline/internal/throttle"
)

// --- In-memory repositories ---
//
// These mirror the conditional SQL of the real repositories so concurrency
// rules can be exercised without a database.

type memUsers struct {
	mu    sync.Mutex
	byID  map[string]*User
	calls struct{ lastLogin, updatePassword int }
}

func newMemUsers(users ...*User) *memUsers {
	m := &memUsers{byID: map[string]*User{}}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, apperror.NewNotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *memUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.lastLogin++
	if u, ok := m.byID[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash, remember string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.updatePassword++
	u, ok := m.byID[id]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	u.PasswordHash = hash
	u.RememberToken = &remember
	return nil
}

type memChallenges struct {
	mu   sync.Mutex
	byID map[string]*Challenge
}

func newMemChallenges() *memChallenges {
	return &memChallenges{byID: map[string]*Challenge{}}
}

func (m *memChallenges) ExpireActive(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.byID {
		if ch.UserID == userID && !ch.Consumed && !ch.Expired {
			ch.Expired = true
		}
	}
	return nil
}

func (m *memChallenges) Create(_ context.Context, ch *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ch
	m.byID[ch.ID] = &cp
	return nil
}

func (m *memChallenges) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memChallenges) FindByID(_ context.Context, id string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	if !ok {
		return nil, apperror.NewNotFound("challenge not found")
	}
	cp := *ch
	return &cp, nil
}

func (m *memChallenges) IncrementAttempts(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	if !ok || !ch.IsActive(now) {
		return false, nil
	}
	ch.AttemptsUsed++
	return true, nil
}

func (m *memChallenges) Consume(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	if !ok || !ch.IsActive(now) {
		return false, nil
	}
	ch.Consumed = true
	return true, nil
}

// active returns the active challenges of a user.
func (m *memChallenges) active(userID string, now time.Time) []*Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Challenge
	for _, ch := range m.byID {
		if ch.UserID == userID && ch.IsActive(now) {
			out = append(out, ch)
		}
	}
	return out
}

type memResetTokens struct {
	mu      sync.Mutex
	byEmail map[string]*ResetToken
}

func newMemResetTokens() *memResetTokens {
	return &memResetTokens{byEmail: map[string]*ResetToken{}}
}

func (m *memResetTokens) Upsert(_ context.Context, email, hash string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[email] = &ResetToken{Email: email, TokenHash: hash, CreatedAt: createdAt}
	return nil
}

func (m *memResetTokens) FindByEmail(_ context.Context, email string) (*ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byEmail[email]
	if !ok {
		return nil, apperror.NewNotFound("reset token not found")
	}
	cp := *t
	return &cp, nil
}

func (m *memResetTokens) Delete(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byEmail, email)
	return nil
}

func (m *memResetTokens) DeleteMatching(_ context.Context, email, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byEmail[email]
	if !ok || t.TokenHash != hash {
		return false, nil
	}
	delete(m.byEmail, email)
	return true, nil
}

// --- Mail and events ---

type sentMail struct {
	To      []string
	Subject string
	Body    string
}

type mockMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *mockMailer) SendMail(_ context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

// slowMailer delays every send, like an SMTP server that takes its time.
type slowMailer struct {
	delay time.Duration
	next  MailSender
}

func (m slowMailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	time.Sleep(m.delay)
	return m.next.SendMail(ctx, to, subject, body)
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordedEvents) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

func (r *recordedEvents) has(action string) bool {
	for _, a := range r.actions() {
		if a == action {
			return true
		}
	}
	return false
}

// --- Harness ---

var errSMTPDown = errors.New("smtp: connection refused")

// testEnv is a fully wired authService with in-memory collaborators.
type testEnv struct {
	svc        *authService
	users      *memUsers
	challenges *memChallenges
	resets     *memResetTokens
	store      SessionStore
	mailer     *mockMailer
	events     *recordedEvents
	mr         *miniredis.Miniredis
	clock      time.Time
	codes      []string
	user       *User
}

const (
	testEmail    = "alice@example.com"
	testPassword = "Pa$$w0rd!"
	testIP       = "203.0.113.10"
)

var testOrigin = Origin{IP: testIP, UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"}

func testSettings() Settings {
	return Settings{
		BaseURL:           "https://crm.example.com",
		SessionTTL:        2 * time.Hour,
		RememberTTL:       720 * time.Hour,
		PendingLoginTTL:   2 * time.Hour,
		OTPTTL:            10 * time.Minute,
		OTPMaxAttempts:    3,
		LoginMaxAttempts:  5,
		LoginDecay:        time.Minute,
		ResendMaxAttempts: 3,
		ResendDecay:       10 * time.Minute,
		PasswordResetTTL:  time.Hour,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher := NewArgon2Hasher(testArgon2Params)
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hashing test password: %v", err)
	}
	user := &User{
		ID:           "user-1",
		Email:        testEmail,
		DisplayName:  "Alice",
		PasswordHash: hash,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	env := &testEnv{
		users:      newMemUsers(user),
		challenges: newMemChallenges(),
		resets:     newMemResetTokens(),
		store:      NewRedisStore(rdb),
		mailer:     &mockMailer{},
		events:     &recordedEvents{},
		mr:         mr,
		clock:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		user:       user,
	}

	env.svc = newAuthService(Dependencies{
		Users:       env.users,
		Challenges:  env.challenges,
		ResetTokens: env.resets,
		Store:       env.store,
		Limiter:     throttle.New(rdb),
		Mailer:      env.mailer,
		Locator:     geoip.Static("Berlin, Germany"),
		Hasher:      hasher,
		Events:      env.events,
	}, testSettings())
	env.svc.now = func() time.Time { return env.clock }
	env.svc.generateCode = func() (string, error) {
		if len(env.codes) == 0 {
			return "123456", nil
		}
		code := env.codes[0]
		env.codes = env.codes[1:]
		return code, nil
	}
	return env
}

// advance moves both the service clock and Redis TTLs forward.
func (e *testEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
	e.mr.FastForward(d)
}

// requestReset asks for a reset link and waits for the detached delivery.
func (e *testEnv) requestReset(ctx context.Context, email string, origin Origin) error {
	err := e.svc.RequestPasswordReset(ctx, email, origin)
	e.svc.background.Wait()
	return err
}

// login passes the credential step and returns the login token.
func (e *testEnv) login(t *testing.T, remember bool) string {
	t.Helper()
	res, err := e.svc.Login(context.Background(), LoginInput{
		Email:    testEmail,
		Password: testPassword,
		Remember: remember,
		Origin:   testOrigin,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res.LoginToken
}

func (e *testEnv) verify(loginToken, code string) (*VerifyResult, error) {
	return e.svc.VerifyOTP(context.Background(), VerifyInput{
		LoginToken: loginToken,
		Code:       code,
		Origin:     testOrigin,
	})
}

// assertType fails unless err is an AppError of the given type.
func assertType(t *testing.T, err error, typ string) *apperror.AppError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", typ)
	}
	appErr, ok := apperror.As(err)
	if !ok {
		t.Fatalf("expected AppError %s, got %T: %v", typ, err, err)
	}
	if appErr.Type != typ {
		t.Fatalf("expected error type %s, got %s (%s)", typ, appErr.Type, appErr.Message)
	}
	return appErr
}
