package auth

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/pipeline/internal/templates/layouts"
)

// LoginPageData drives the sign-in page. PendingOTP opens the page on the
// code step when the browser already passed the password step.
type LoginPageData struct {
	CSRFToken  string
	Status     string
	PendingOTP bool
}

// LoginPage renders the two-step sign-in form. The forms post JSON to
// /login, /login/otp and /login/otp/resend and switch steps client-side.
func LoginPage(d LoginPageData) templ.Component {
	return layouts.Base("Sign in", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		credsClass, codeClass := "", " hidden"
		if d.PendingOTP {
			credsClass, codeClass = " hidden", ""
		}

		h.Raw(`<div class="card" id="login-card"`).Attr("data-csrf", d.CSRFToken).Raw(`>`)
		h.Raw(`<h1>Sign in</h1>`).Alert("success", d.Status)
		h.Raw(`<div id="login-error" class="alert alert-error hidden" role="alert"></div>`)
		h.Raw(`<div id="login-info" class="alert alert-success hidden"></div>`)

		h.Raw(`<form id="credentials-form" method="post" action="/login" class="` + credsClass + `">`)
		h.CSRF(d.CSRFToken)
		h.Raw(`<label for="email">Email</label><input id="email" type="email" name="email" autocomplete="username" required>`)
		h.Raw(`<label for="password">Password</label><input id="password" type="password" name="password" autocomplete="current-password" required>`)
		h.Raw(`<label><input type="checkbox" name="remember" value="true"> Remember me</label>`)
		h.Raw(`<button class="primary" type="submit">Continue</button>`)
		h.Raw(`<p><a href="/forgot-password">Forgot your password?</a></p></form>`)

		h.Raw(`<form id="code-form" method="post" action="/login/otp" class="` + codeClass + `">`)
		h.CSRF(d.CSRFToken)
		h.Raw(`<p>We emailed you a 6-digit verification code.</p>`)
		h.Raw(`<label for="code">Verification code</label><input id="code" type="text" name="code" inputmode="numeric" pattern="[0-9]{6}" maxlength="6" autocomplete="one-time-code" required>`)
		h.Raw(`<button class="primary" type="submit">Verify</button>`)
		h.Raw(`<p><button type="button" id="resend-code">Send a new code</button></p></form>`)
		h.Raw(`</div>`)
		h.Raw(`<script>` + loginScript + `</script>`)
		return h.Err()
	}))
}

const loginScript = `(function(){
var card=document.getElementById('login-card'),csrf=card.dataset.csrf;
var err=document.getElementById('login-error'),info=document.getElementById('login-info');
var creds=document.getElementById('credentials-form'),code=document.getElementById('code-form');
function show(el,msg){el.textContent=msg;el.classList.toggle('hidden',!msg);}
function post(url,body){return fetch(url,{method:'POST',credentials:'same-origin',
 headers:{'Content-Type':'application/json','Accept':'application/json','X-CSRF-Token':csrf},
 body:JSON.stringify(body)}).then(function(r){return r.json().then(function(j){return {status:r.status,body:j};});});}
function fail(res){var b=res.body,msg=b.message||'Something went wrong.';
 if(b.type==='wrong_code'){msg+=' Attempts left: '+b.attempts_left+'.';}
 show(err,msg);show(info,'');
 if(b.type==='session_expired'||b.type==='invalid_session'){code.classList.add('hidden');creds.classList.remove('hidden');}}
creds.addEventListener('submit',function(e){e.preventDefault();var f=new FormData(creds);
 post('/login',{email:f.get('email'),password:f.get('password'),remember:f.get('remember')==='true'}).then(function(res){
  if(res.status===200&&res.body.requires_otp){show(err,'');creds.classList.add('hidden');code.classList.remove('hidden');}else{fail(res);}});});
code.addEventListener('submit',function(e){e.preventDefault();
 post('/login/otp',{code:new FormData(code).get('code')}).then(function(res){
  if(res.status===200&&res.body.redirect){window.location=res.body.redirect;}else{fail(res);}});});
document.getElementById('resend-code').addEventListener('click',function(){
 post('/login/otp/resend',{}).then(function(res){if(res.status===200){show(err,'');show(info,res.body.message);}else{fail(res);}});});
})();`

// ForgotPasswordPageData drives the forgot-password page.
type ForgotPasswordPageData struct {
	CSRFToken string
	Email     string
	Error     string
	Sent      string
}

// ForgotPasswordPage renders the reset request form.
func ForgotPasswordPage(d ForgotPasswordPageData) templ.Component {
	return layouts.Base("Forgot password", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		h.Raw(`<div class="card"><h1>Forgot password</h1>`)
		h.Alert("success", d.Sent).Alert("error", d.Error)
		h.Raw(`<form method="post" action="/forgot-password">`)
		h.CSRF(d.CSRFToken)
		h.Raw(`<label for="email">Email</label><input id="email" type="email" name="email" required`).Attr("value", d.Email).Raw(`>`)
		h.Raw(`<button class="primary" type="submit">Email reset link</button></form>`)
		h.Raw(`<p><a href="/login">Back to sign in</a></p></div>`)
		return h.Err()
	}))
}

// ResetPasswordPageData drives the new-password page.
type ResetPasswordPageData struct {
	CSRFToken string
	Token     string
	Email     string
	Field     string
	Error     string
}

// ResetPasswordPage renders the new password form. Field errors are shown
// under the input they belong to.
func ResetPasswordPage(d ResetPasswordPageData) templ.Component {
	return layouts.Base("Reset password", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := layouts.NewHTML(w)
		fieldErr := func(name string) {
			if d.Error != "" && d.Field == name {
				h.Raw(`<div class="field-error">`).Text(d.Error).Raw(`</div>`)
			}
		}

		h.Raw(`<div class="card"><h1>Reset password</h1>`)
		if d.Error != "" && d.Field != "email" && d.Field != "password" {
			h.Alert("error", d.Error)
		}
		h.Raw(`<form method="post" action="/reset-password">`)
		h.CSRF(d.CSRFToken)
		h.Raw(`<input type="hidden" name="token"`).Attr("value", d.Token).Raw(`>`)
		h.Raw(`<label for="email">Email</label><input id="email" type="email" name="email" required`).Attr("value", d.Email).Raw(`>`)
		fieldErr("email")
		h.Raw(`<label for="password">New password</label><input id="password" type="password" name="password" autocomplete="new-password" required>`)
		fieldErr("password")
		h.Raw(`<label for="password_confirmation">Confirm password</label><input id="password_confirmation" type="password" name="password_confirmation" autocomplete="new-password" required>`)
		h.Raw(`<button class="primary" type="submit">Reset password</button></form></div>`)
		return h.Err()
	}))
}
