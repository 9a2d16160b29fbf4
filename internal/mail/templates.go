package mail

import (
	"bytes"
	"fmt"
	"net/url"
	"text/template"
	"time"
)

const verificationTemplate = `Hi {{.Name}},

Welcome to {{.SiteName}}! Please confirm your email address by opening the link below:

{{.Link}}

The link is valid for {{minutes .TTL}} minutes.

If you did not create an account, you can ignore this email.
`

const passwordResetTemplate = `Hi {{.Name}},

Forgot your password? Submit a PATCH request with your new password and confirmPassword to:

{{.Link}}

The link is valid for {{minutes .TTL}} minutes.

If you didn't forget your password, please ignore this email.
`

var funcs = template.FuncMap{
	"minutes": func(d time.Duration) string { return fmt.Sprintf("%.f", d.Minutes()) },
}

var (
	verificationTmpl  = template.Must(template.New("verification").Funcs(funcs).Parse(verificationTemplate))
	passwordResetTmpl = template.Must(template.New("passwordReset").Funcs(funcs).Parse(passwordResetTemplate))
)

// templateParams はテンプレートに渡すデータ。
type templateParams struct {
	Name     string
	SiteName string
	Link     string
	TTL      time.Duration
}

// Composer は認証フローのメッセージを組み立てる。
type Composer struct {
	baseURL  string
	siteName string
	ttl      time.Duration
}

// NewComposer はComposerを生成する。baseURLは末尾スラッシュなしのAPIの公開URL。
func NewComposer(baseURL, siteName string, ttl time.Duration) *Composer {
	return &Composer{baseURL: baseURL, siteName: siteName, ttl: ttl}
}

// VerificationLink はメール確認用のリンクを返す。
func (c *Composer) VerificationLink(secret string) string {
	return c.baseURL + "/api/v1/users/verifyEmail/" + url.PathEscape(secret)
}

// PasswordResetLink はパスワードリセット用のリンクを返す。
func (c *Composer) PasswordResetLink(secret string) string {
	return c.baseURL + "/api/v1/users/resetPassword/" + url.PathEscape(secret)
}

// Verification はメール確認メッセージを組み立てる。
func (c *Composer) Verification(to, name, secret string) (Message, error) {
	body, err := c.execute(verificationTmpl, name, c.VerificationLink(secret))
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Verify your email address",
		Body:    body,
	}, nil
}

// PasswordReset はパスワードリセットメッセージを組み立てる。
func (c *Composer) PasswordReset(to, name, secret string) (Message, error) {
	body, err := c.execute(passwordResetTmpl, name, c.PasswordResetLink(secret))
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your password reset token (valid for %.f min)", c.ttl.Minutes()),
		Body:    body,
	}, nil
}

func (c *Composer) execute(tmpl *template.Template, name, link string) (string, error) {
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, templateParams{
		Name:     name,
		SiteName: c.siteName,
		Link:     link,
		TTL:      c.ttl,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render %s mail: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
