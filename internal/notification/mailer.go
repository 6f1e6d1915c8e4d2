package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"time"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "layout_start"}}<html><body style="font-family: Arial, sans-serif; color: #333333;"><div style="max-width: 600px; margin: 0 auto; padding: 24px;"><h1 style="color: #1e3a8a;">AutoVault</h1>{{end}}
{{define "layout_end"}}<p style="color: #666666; font-size: 12px;">This is an automated message from AutoVault. Please do not reply.</p></div></body></html>{{end}}

{{define "verification"}}{{template "layout_start"}}
<h2>Verify your email address</h2>
<p>Hi {{.Username}},</p>
<p>Thanks for signing up. Please confirm your email address to activate your account.</p>
<p><a href="{{.Link}}" style="background: #1e3a8a; color: #ffffff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Verify email</a></p>
<p>Or copy this link into your browser: {{.Link}}</p>
<p>This link expires in {{.TTL}}.</p>
{{template "layout_end"}}{{end}}

{{define "welcome"}}{{template "layout_start"}}
<h2>Welcome to AutoVault</h2>
<p>Hi {{.Username}},</p>
<p>Your email is verified and your account is now active. You can browse vehicles and make bookings right away.</p>
<p><a href="{{.Link}}">Go to AutoVault</a></p>
{{template "layout_end"}}{{end}}

{{define "login_code"}}{{template "layout_start"}}
<h2>Your login verification code</h2>
<p>Hi {{.Username}},</p>
<p>Use this code to finish signing in:</p>
<p style="font-size: 32px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
<p>The code expires in {{.TTL}}. If you did not try to sign in, change your password.</p>
{{template "layout_end"}}{{end}}

{{define "password_reset"}}{{template "layout_start"}}
<h2>Reset your password</h2>
<p>Hi {{.Username}},</p>
<p>A password reset was requested for your account.</p>
<p><a href="{{.Link}}" style="background: #1e3a8a; color: #ffffff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Reset password</a></p>
<p>Or copy this link into your browser: {{.Link}}</p>
<p>This link expires in {{.TTL}}. If you did not request it, you can ignore this email.</p>
{{template "layout_end"}}{{end}}

{{define "new_device"}}{{template "layout_start"}}
<h2>New login detected</h2>
<p>Hi {{.Username}},</p>
<p>Your account was accessed from a new location.</p>
<ul>
<li>Time: {{.Time}}</li>
<li>IP address: {{.IP}}</li>
<li>Device: {{.UserAgent}}</li>
</ul>
<p>If this was you, no action is needed. Otherwise reset your password and enable two-factor authentication.</p>
{{template "layout_end"}}{{end}}
`))

type mailData struct {
	Username  string
	Link      string
	Code      string
	TTL       string
	IP        string
	UserAgent string
	Time      string
}

// Mailer renders the account emails and hands them to a Sender.
type Mailer struct {
	sender  Sender
	baseURL string
}

func NewMailer(sender Sender, baseURL string) *Mailer {
	return &Mailer{sender: sender, baseURL: baseURL}
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, to, username, token string, ttl time.Duration) error {
	return m.send(ctx, to, "Verify Your AutoVault Account", "verification", mailData{
		Username: username,
		Link:     m.link("/verify-email/" + url.PathEscape(token)),
		TTL:      humanize(ttl),
	})
}

func (m *Mailer) SendWelcomeEmail(ctx context.Context, to, username string) error {
	return m.send(ctx, to, "Welcome to AutoVault - Your Account is Now Active", "welcome", mailData{
		Username: username,
		Link:     m.link("/"),
	})
}

// SendLoginCode delivers an email OTP.
func (m *Mailer) SendLoginCode(ctx context.Context, to, username, code string, ttl time.Duration) error {
	return m.send(ctx, to, "Your AutoVault Login Verification Code", "login_code", mailData{
		Username: username,
		Code:     code,
		TTL:      humanize(ttl),
	})
}

func (m *Mailer) SendPasswordResetEmail(ctx context.Context, to, username, token string, ttl time.Duration) error {
	return m.send(ctx, to, "Reset Your AutoVault Password", "password_reset", mailData{
		Username: username,
		Link:     m.link("/reset-password/" + url.PathEscape(token)),
		TTL:      humanize(ttl),
	})
}

func (m *Mailer) SendNewDeviceAlert(ctx context.Context, to, username, ip, userAgent string, at time.Time) error {
	return m.send(ctx, to, "New Login Detected on Your Account", "new_device", mailData{
		Username:  username,
		IP:        ip,
		UserAgent: userAgent,
		Time:      at.UTC().Format("2006-01-02 15:04 MST"),
	})
}

func (m *Mailer) send(ctx context.Context, to, subject, name string, data mailData) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s email: %w", name, err)
	}
	if err := m.sender.Send(ctx, to, subject, buf.String()); err != nil {
		return fmt.Errorf("failed to send %s email: %w", name, err)
	}
	return nil
}

func (m *Mailer) link(path string) string {
	return m.baseURL + path
}

func humanize(d time.Duration) string {
	switch {
	case d >= 2*time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d == time.Hour:
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", int((d+time.Minute-1)/time.Minute))
	}
}
