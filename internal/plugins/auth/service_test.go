package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keyxmakerx/pipeline/internal/apperror"
)

// --- Credential step ---

func TestLogin_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Login(ctx, LoginInput{Email: "  ", Password: "x", Origin: testOrigin})
	if appErr := assertType(t, err, "validation_error"); appErr.Field != "email" {
		t.Errorf("expected field email, got %q", appErr.Field)
	}

	_, err = env.svc.Login(ctx, LoginInput{Email: testEmail, Origin: testOrigin})
	if appErr := assertType(t, err, "validation_error"); appErr.Field != "password" {
		t.Errorf("expected field password, got %q", appErr.Field)
	}
}

func TestLogin_IssuesCode(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.Login(context.Background(), LoginInput{
		Email:    "  Alice@Example.com ",
		Password: testPassword,
		Origin:   testOrigin,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.RequiresOTP || res.LoginToken == "" {
		t.Fatalf("expected pending login, got %+v", res)
	}
	if res.TTL != 2*time.Hour {
		t.Errorf("expected pending TTL 2h, got %v", res.TTL)
	}

	if env.mailer.count() != 1 {
		t.Fatalf("expected 1 email, got %d", env.mailer.count())
	}
	mail := env.mailer.last()
	if mail.To[0] != testEmail || mail.Subject != codeMailSubject {
		t.Errorf("unexpected mail envelope: %+v", mail)
	}
	for _, want := range []string{"123456", "10 minutes", testIP, "Berlin, Germany", "Mozilla/5.0"} {
		if !strings.Contains(mail.Body, want) {
			t.Errorf("expected mail body to contain %q:\n%s", want, mail.Body)
		}
	}

	lc, err := env.svc.PendingLogin(context.Background(), res.LoginToken)
	if err != nil || lc == nil {
		t.Fatalf("expected login context, got %v, %v", lc, err)
	}
	if lc.UserID != env.user.ID {
		t.Errorf("expected user %s, got %s", env.user.ID, lc.UserID)
	}

	ch, err := env.challenges.FindByID(context.Background(), lc.ChallengeID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if ch.CodeHash == "123456" || !strings.HasPrefix(ch.CodeHash, "$argon2id$") {
		t.Errorf("expected hashed code, got %q", ch.CodeHash)
	}
	if !ch.ExpiresAt.Equal(env.clock.Add(10 * time.Minute)) {
		t.Errorf("unexpected expiry %v", ch.ExpiresAt)
	}
	if ch.MaxAttempts != 3 || ch.AttemptsUsed != 0 {
		t.Errorf("unexpected attempt counters: %d/%d", ch.AttemptsUsed, ch.MaxAttempts)
	}
	if !env.events.has(ActionCodeIssued) {
		t.Error("expected code issued event")
	}
}

func TestLogin_InvalidCredentialsLookAlike(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, wrongPw := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: "nope", Origin: testOrigin})
	_, unknown := env.svc.Login(ctx, LoginInput{Email: "bob@example.com", Password: "nope", Origin: testOrigin})

	a := assertType(t, wrongPw, TypeInvalidCredentials)
	b := assertType(t, unknown, TypeInvalidCredentials)
	if a.Message != b.Message || a.Field != b.Field || a.Code != b.Code {
		t.Errorf("expected identical errors, got %+v and %+v", a, b)
	}
	if env.mailer.count() != 0 {
		t.Error("expected no email on failed login")
	}
	if !env.events.has(ActionLoginFailed) {
		t.Error("expected login failed event")
	}
}

func TestLogin_ThrottlesSixthAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: "wrong", Origin: testOrigin})
		assertType(t, err, TypeInvalidCredentials)
	}

	// Even the right password is refused while throttled.
	_, err := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: testPassword, Origin: testOrigin})
	appErr := assertType(t, err, TypeThrottled)
	if appErr.Code != 429 || appErr.Field != "email" {
		t.Errorf("unexpected throttle error %+v", appErr)
	}
	retry, ok := RetryAfter(err)
	if !ok || retry < 1 || retry > 60 {
		t.Errorf("expected retry_after in (0, 60], got %d (%v)", retry, ok)
	}
	if !strings.Contains(appErr.Message, "seconds") {
		t.Errorf("expected message to mention seconds, got %q", appErr.Message)
	}
	if env.mailer.count() != 0 {
		t.Error("throttled login must not send a code")
	}
	if !env.events.has(ActionLoginThrottled) {
		t.Error("expected throttled event")
	}

	// Another IP has its own counter.
	other := Origin{IP: "198.51.100.1"}
	if _, err := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: testPassword, Origin: other}); err != nil {
		t.Errorf("expected other IP to pass, got %v", err)
	}

	env.advance(61 * time.Second)
	if _, err := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: testPassword, Origin: testOrigin}); err != nil {
		t.Errorf("expected login after decay, got %v", err)
	}
}

func TestLogin_SuccessClearsThrottle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = env.svc.Login(ctx, LoginInput{Email: testEmail, Password: "wrong", Origin: testOrigin})
	}
	env.login(t, false)
	for i := 0; i < 4; i++ {
		_, err := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: "wrong", Origin: testOrigin})
		assertType(t, err, TypeInvalidCredentials)
	}
}

func TestLogin_DeliveryFailureRemovesChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errSMTPDown

	_, err := env.svc.Login(context.Background(), LoginInput{Email: testEmail, Password: testPassword, Origin: testOrigin})
	appErr := assertType(t, err, TypeDeliveryFailed)
	if appErr.Code != 503 {
		t.Errorf("expected 503, got %d", appErr.Code)
	}
	if n := len(env.challenges.active(env.user.ID, env.clock)); n != 0 {
		t.Errorf("expected no active challenge, got %d", n)
	}
}

// --- Code issuance ---

func TestIssueChallenge_OnlyOneActive(t *testing.T) {
	env := newTestEnv(t)
	first := env.login(t, false)
	second := env.login(t, false)

	active := env.challenges.active(env.user.ID, env.clock)
	if len(active) != 1 {
		t.Fatalf("expected exactly one active challenge, got %d", len(active))
	}

	lc, _ := env.svc.PendingLogin(context.Background(), second)
	if active[0].ID != lc.ChallengeID {
		t.Error("expected the newest challenge to be active")
	}

	// The first browser's challenge was superseded.
	_, err := env.verify(first, "123456")
	assertType(t, err, TypeChallengeInvalid)
}

// --- Code step ---

func TestVerifyOTP_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.login(t, false)

	res, err := env.verify(token, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.SessionToken == "" || res.SessionToken == token {
		t.Fatal("expected a fresh session token")
	}
	if res.TTL != 2*time.Hour {
		t.Errorf("expected session TTL 2h, got %v", res.TTL)
	}

	session, err := env.svc.ValidateSession(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if session.UserID != env.user.ID || session.Email != testEmail || session.Remember {
		t.Errorf("unexpected session %+v", session)
	}

	if lc, _ := env.svc.PendingLogin(ctx, token); lc != nil {
		t.Error("expected login context to be removed")
	}
	if env.users.calls.lastLogin != 1 {
		t.Error("expected last login to be recorded")
	}
	if !env.events.has(ActionLoginSucceeded) {
		t.Error("expected login event")
	}
}

func TestVerifyOTP_RememberExtendsSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, true)

	res, err := env.verify(token, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.TTL != 720*time.Hour {
		t.Errorf("expected remember TTL, got %v", res.TTL)
	}
	if ttl := env.mr.TTL(sessionKeyPrefix + res.SessionToken); ttl != 720*time.Hour {
		t.Errorf("expected Redis TTL 720h, got %v", ttl)
	}
}

func TestVerifyOTP_MissingContext(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.verify("", "123456")
	assertType(t, err, TypeSessionExpired)

	_, err = env.verify("no-such-token", "123456")
	assertType(t, err, TypeSessionExpired)
}

func TestVerifyOTP_RejectsMalformedCode(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, false)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := env.verify(token, code)
		if appErr := assertType(t, err, "validation_error"); appErr.Field != "code" {
			t.Errorf("code %q: expected field code, got %q", code, appErr.Field)
		}
	}

	ch := env.challenges.active(env.user.ID, env.clock)[0]
	if ch.AttemptsUsed != 0 {
		t.Errorf("malformed codes must not consume attempts, got %d", ch.AttemptsUsed)
	}
}

func TestVerifyOTP_AttemptLimit(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, false)

	for want := 2; want >= 0; want-- {
		_, err := env.verify(token, "654321")
		assertType(t, err, TypeWrongCode)
		left, ok := AttemptsLeft(err)
		if !ok || left != want {
			t.Fatalf("expected %d attempts left, got %d (%v)", want, left, ok)
		}
	}

	// The right code is useless once the attempts are spent.
	_, err := env.verify(token, "123456")
	assertType(t, err, TypeChallengeInvalid)

	if got := len(env.events.actions()); got == 0 || !env.events.has(ActionCodeFailed) {
		t.Error("expected code failed events")
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, false)

	env.advance(10*time.Minute + time.Second)

	_, err := env.verify(token, "123456")
	assertType(t, err, TypeChallengeInvalid)

	lc, _ := env.svc.PendingLogin(context.Background(), token)
	ch, _ := env.challenges.FindByID(context.Background(), lc.ChallengeID)
	if ch.AttemptsUsed != 0 || ch.Consumed {
		t.Errorf("expired challenge must be untouched, got %+v", ch)
	}
}

func TestVerifyOTP_ChallengeUsableOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.login(t, false)
	lc, _ := env.svc.PendingLogin(ctx, token)

	if _, err := env.verify(token, "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	// Replay the same challenge through a fresh login context.
	if err := env.store.SaveLoginContext(ctx, "replay", lc, time.Hour); err != nil {
		t.Fatalf("SaveLoginContext: %v", err)
	}
	_, err := env.verify("replay", "123456")
	assertType(t, err, TypeChallengeInvalid)
}

func TestVerifyOTP_ConcurrentSubmissions(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, false)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.verify(token, "123456")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		if !apperror.IsType(err, TypeChallengeInvalid) && !apperror.IsType(err, TypeSessionExpired) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one success, got %d", successes)
	}
}

func TestVerifyOTP_UserRemoved(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, false)
	delete(env.users.byID, env.user.ID)

	_, err := env.verify(token, "123456")
	assertType(t, err, TypeInvalidSession)
}

func TestVerifyOTP_ReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	previous, err := env.store.CreateSession(ctx, &Session{UserID: "someone-else"}, time.Hour)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	token := env.login(t, false)
	res, err := env.svc.VerifyOTP(ctx, VerifyInput{
		LoginToken:      token,
		Code:            "123456",
		PreviousSession: previous,
		Origin:          testOrigin,
	})
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if res.SessionToken == previous {
		t.Fatal("session token must not be reused")
	}
	if s, _ := env.store.GetSession(ctx, previous); s != nil {
		t.Error("expected previous session to be destroyed")
	}
}

// --- Resend ---

func TestResendOTP_SupersedesPreviousCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes = []string{"111111", "222222"}
	token := env.login(t, true)

	before, _ := env.svc.PendingLogin(ctx, token)
	if err := env.svc.ResendOTP(ctx, token, testOrigin); err != nil {
		t.Fatalf("ResendOTP: %v", err)
	}
	after, _ := env.svc.PendingLogin(ctx, token)

	if before.ChallengeID == after.ChallengeID {
		t.Fatal("expected the login context to point at a new challenge")
	}
	if !after.Remember {
		t.Error("expected remember choice to survive a resend")
	}
	old, _ := env.challenges.FindByID(ctx, before.ChallengeID)
	if !old.Expired {
		t.Error("expected previous challenge to be expired")
	}
	if !strings.Contains(env.mailer.last().Body, "222222") {
		t.Error("expected the new code to be emailed")
	}

	_, err := env.verify(token, "111111")
	assertType(t, err, TypeWrongCode)

	res, err := env.verify(token, "222222")
	if err != nil {
		t.Fatalf("VerifyOTP with new code: %v", err)
	}
	if res.TTL != 720*time.Hour {
		t.Errorf("expected remember TTL, got %v", res.TTL)
	}
	if !env.events.has(ActionCodeResent) {
		t.Error("expected code resent event")
	}
}

func TestResendOTP_Throttled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.login(t, false)

	for i := 0; i < 3; i++ {
		if err := env.svc.ResendOTP(ctx, token, testOrigin); err != nil {
			t.Fatalf("resend %d: %v", i+1, err)
		}
	}
	err := env.svc.ResendOTP(ctx, token, testOrigin)
	if appErr := assertType(t, err, TypeThrottled); appErr.Field != "code" {
		t.Errorf("expected field code, got %q", appErr.Field)
	}
	if env.mailer.count() != 4 {
		t.Errorf("expected 4 emails, got %d", env.mailer.count())
	}
}

func TestResendOTP_PublishesOneEventPerCode(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, false)
	if err := env.svc.ResendOTP(context.Background(), token, testOrigin); err != nil {
		t.Fatalf("ResendOTP: %v", err)
	}

	var issued []string
	for _, a := range env.events.actions() {
		if a == ActionCodeIssued || a == ActionCodeResent {
			issued = append(issued, a)
		}
	}
	if len(issued) != 2 || issued[0] != ActionCodeIssued || issued[1] != ActionCodeResent {
		t.Errorf("expected [%s %s], got %v", ActionCodeIssued, ActionCodeResent, issued)
	}
}

func TestResendOTP_FailedDeliveryDoesNotCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.login(t, false)

	env.mailer.err = errSMTPDown
	assertType(t, env.svc.ResendOTP(ctx, token, testOrigin), TypeDeliveryFailed)
	env.mailer.err = nil

	for i := 0; i < 3; i++ {
		if err := env.svc.ResendOTP(ctx, token, testOrigin); err != nil {
			t.Fatalf("resend %d after failed delivery: %v", i+1, err)
		}
	}
	assertType(t, env.svc.ResendOTP(ctx, token, testOrigin), TypeThrottled)

	res, err := env.verify(token, "123456")
	if err != nil || res.SessionToken == "" {
		t.Fatalf("expected the last delivered code to work, got %v", err)
	}
}

func TestResendOTP_RequiresPendingLogin(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.ResendOTP(context.Background(), "missing", testOrigin)
	assertType(t, err, TypeSessionExpired)
}

// --- Sessions ---

func TestValidateSession_Missing(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "unknown"} {
		_, err := env.svc.ValidateSession(context.Background(), token)
		assertType(t, err, "unauthorized")
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.verify(env.login(t, false), "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	pending := env.login(t, false)

	if err := env.svc.Logout(ctx, res.SessionToken, pending, testOrigin); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.svc.ValidateSession(ctx, res.SessionToken); err == nil {
		t.Error("expected session to be gone")
	}
	if lc, _ := env.svc.PendingLogin(ctx, pending); lc != nil {
		t.Error("expected pending login to be gone")
	}
	if !env.events.has(ActionLogout) {
		t.Error("expected logout event")
	}
}

// --- Password reset ---

// resetTokenFromMail pulls the token out of the emailed reset link.
func resetTokenFromMail(t *testing.T, body string) string {
	t.Helper()
	_, rest, ok := strings.Cut(body, "/reset-password/")
	if !ok {
		t.Fatalf("no reset link in mail:\n%s", body)
	}
	token, _, _ := strings.Cut(rest, "?")
	return token
}

func TestRequestPasswordReset_IdenticalOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	errKnown := env.requestReset(ctx, testEmail, testOrigin)
	errUnknown := env.requestReset(ctx, "nobody@example.com", testOrigin)
	if errKnown != nil || errUnknown != nil {
		t.Fatalf("expected nil for both, got %v and %v", errKnown, errUnknown)
	}
	if env.mailer.count() != 1 {
		t.Fatalf("expected one email, got %d", env.mailer.count())
	}

	mail := env.mailer.last()
	if !strings.Contains(mail.Body, "https://crm.example.com/reset-password/") ||
		!strings.Contains(mail.Body, "?email=alice%40example.com") {
		t.Errorf("unexpected reset link:\n%s", mail.Body)
	}
	if !strings.Contains(mail.Body, "60 minutes") {
		t.Error("expected expiry in minutes")
	}
	if token := resetTokenFromMail(t, mail.Body); len(token) != resetTokenLength {
		t.Errorf("expected %d-char token, got %d", resetTokenLength, len(token))
	}

	stored, err := env.resets.FindByEmail(ctx, testEmail)
	if err != nil || !strings.HasPrefix(stored.TokenHash, "$argon2id$") {
		t.Errorf("expected hashed token stored, got %+v, %v", stored, err)
	}

	// Mail failures are not surfaced either.
	env.mailer.err = errSMTPDown
	if err := env.requestReset(ctx, testEmail, testOrigin); err != nil {
		t.Errorf("expected nil on mail failure, got %v", err)
	}
}

func TestRequestPasswordReset_TimingDoesNotDependOnMail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const delay = 400 * time.Millisecond
	env.svc.mailer = slowMailer{delay: delay, next: env.mailer}

	start := time.Now()
	if err := env.svc.RequestPasswordReset(ctx, testEmail, testOrigin); err != nil {
		t.Fatalf("known email: %v", err)
	}
	known := time.Since(start)

	start = time.Now()
	if err := env.svc.RequestPasswordReset(ctx, "nobody@example.com", testOrigin); err != nil {
		t.Fatalf("unknown email: %v", err)
	}
	unknown := time.Since(start)

	if known >= delay/2 {
		t.Errorf("known email waited for delivery: known=%v unknown=%v", known, unknown)
	}

	if err := env.svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if env.mailer.count() != 1 {
		t.Errorf("expected the reset email to be delivered after the response, got %d", env.mailer.count())
	}
	if !env.events.has(ActionPasswordResetRequested) {
		t.Error("expected reset request event after delivery")
	}
}

func TestClose_RespectsContext(t *testing.T) {
	env := newTestEnv(t)
	env.svc.mailer = slowMailer{delay: 300 * time.Millisecond, next: env.mailer}
	_ = env.svc.RequestPasswordReset(context.Background(), testEmail, testOrigin)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := env.svc.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	env.svc.background.Wait()
}

func TestRequestPasswordReset_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, email := range []string{"", "not-an-email"} {
		err := env.requestReset(context.Background(), email, testOrigin)
		if appErr := assertType(t, err, "validation_error"); appErr.Field != "email" {
			t.Errorf("%q: expected field email, got %q", email, appErr.Field)
		}
	}
}

func TestRequestPasswordReset_ReplacesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.requestReset(ctx, testEmail, testOrigin)
	first := resetTokenFromMail(t, env.mailer.last().Body)
	_ = env.requestReset(ctx, testEmail, testOrigin)

	err := env.svc.ResetPassword(ctx, ResetInput{
		Token: first, Email: testEmail, Password: "n3w-password", Confirm: "n3w-password",
	}, testOrigin)
	assertType(t, err, TypeInvalidToken)
}

func TestResetPassword_Succeeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.requestReset(ctx, testEmail, testOrigin)
	token := resetTokenFromMail(t, env.mailer.last().Body)

	in := ResetInput{Token: token, Email: "ALICE@example.com", Password: "n3w-password", Confirm: "n3w-password"}
	if err := env.svc.ResetPassword(ctx, in, testOrigin); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	user, _ := env.users.FindByID(ctx, env.user.ID)
	if user.RememberToken == nil || len(*user.RememberToken) != rememberTokenLength {
		t.Error("expected remember token to be rotated")
	}
	if _, err := env.svc.Login(ctx, LoginInput{Email: testEmail, Password: "n3w-password", Origin: testOrigin}); err != nil {
		t.Errorf("expected new password to work, got %v", err)
	}
	if !env.events.has(ActionPasswordReset) {
		t.Error("expected password reset event")
	}

	// Single use.
	err := env.svc.ResetPassword(ctx, in, testOrigin)
	assertType(t, err, TypeInvalidToken)
}

func TestResetPassword_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.requestReset(ctx, testEmail, testOrigin)
	token := resetTokenFromMail(t, env.mailer.last().Body)
	env.advance(61 * time.Minute)

	err := env.svc.ResetPassword(ctx, ResetInput{
		Token: token, Email: testEmail, Password: "n3w-password", Confirm: "n3w-password",
	}, testOrigin)
	assertType(t, err, TypeTokenExpired)

	if _, err := env.resets.FindByEmail(ctx, testEmail); !apperror.IsType(err, "not_found") {
		t.Error("expected expired token to be deleted")
	}
	if env.users.calls.updatePassword != 0 {
		t.Error("password must not change")
	}
}

func TestResetPassword_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.requestReset(ctx, testEmail, testOrigin)
	token := resetTokenFromMail(t, env.mailer.last().Body)

	tests := []struct {
		name  string
		in    ResetInput
		typ   string
		field string
	}{
		{"missing token", ResetInput{Email: testEmail, Password: "n3w-password", Confirm: "n3w-password"}, TypeInvalidToken, "email"},
		{"missing email", ResetInput{Token: token, Password: "n3w-password", Confirm: "n3w-password"}, "validation_error", "email"},
		{"short password", ResetInput{Token: token, Email: testEmail, Password: "short", Confirm: "short"}, "validation_error", "password"},
		{"long password", ResetInput{Token: token, Email: testEmail, Password: strings.Repeat("x", 129), Confirm: strings.Repeat("x", 129)}, "validation_error", "password"},
		{"mismatch", ResetInput{Token: token, Email: testEmail, Password: "n3w-password", Confirm: "other-password"}, "validation_error", "password"},
		{"wrong token", ResetInput{Token: strings.Repeat("A", 64), Email: testEmail, Password: "n3w-password", Confirm: "n3w-password"}, TypeInvalidToken, "email"},
		{"unknown email", ResetInput{Token: token, Email: "bob@example.com", Password: "n3w-password", Confirm: "n3w-password"}, TypeInvalidToken, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.svc.ResetPassword(ctx, tt.in, testOrigin)
			if appErr := assertType(t, err, tt.typ); appErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, appErr.Field)
			}
		})
	}

	// The real token survives the failed attempts.
	if _, err := env.resets.FindByEmail(ctx, testEmail); err != nil {
		t.Errorf("expected token to remain, got %v", err)
	}
}

func TestResetPassword_ConcurrentRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_ = env.requestReset(ctx, testEmail, testOrigin)
	token := resetTokenFromMail(t, env.mailer.last().Body)

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.svc.ResetPassword(ctx, ResetInput{
				Token: token, Email: testEmail, Password: "n3w-password", Confirm: "n3w-password",
			}, testOrigin)
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		} else if !apperror.IsType(err, TypeInvalidToken) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one redemption, got %d", successes)
	}
}

// --- Bootstrap ---

func TestEnsureUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	existing, err := env.svc.EnsureUser(ctx, " ALICE@example.com", "Someone", "whatever-pass", true)
	if err != nil {
		t.Fatalf("EnsureUser existing: %v", err)
	}
	if existing.ID != env.user.ID || existing.IsAdmin {
		t.Error("expected existing account to be returned unchanged")
	}

	created, err := env.svc.EnsureUser(ctx, "Admin@Example.com", "<b>Admin</b>", "admin-password", true)
	if err != nil {
		t.Fatalf("EnsureUser new: %v", err)
	}
	if created.Email != "admin@example.com" || !created.IsAdmin || created.DisplayName != "Admin" {
		t.Errorf("unexpected user %+v", created)
	}
	if _, err := env.users.FindByEmail(ctx, "admin@example.com"); err != nil {
		t.Error("expected user to be stored")
	}

	_, err = env.svc.EnsureUser(ctx, "new@example.com", "New", "short", false)
	assertType(t, err, "validation_error")
}
