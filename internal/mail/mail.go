// Package mail はメール送信と認証フロー用メッセージの組み立てを提供する。
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// DefaultSMTPTimeout はSMTPサーバーとの1回のやり取り全体に許す時間。
const DefaultSMTPTimeout = 10 * time.Second

// ErrHeaderInjection は宛先や件名に改行が含まれる場合に返される。
var ErrHeaderInjection = errors.New("mail header contains line break")

// Message は送信するメール。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration // 0以下は DefaultSMTPTimeout
}

// sendMailFunc は1通のメールをSMTPで配送する。テストで差し替える。
type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender はSMTPサーバー経由でメールを送信する。
// 接続とやり取りは ctx と Timeout のどちらか早い方で打ち切られる。
type SMTPSender struct {
	cfg      SMTPConfig
	timeout  time.Duration
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{
		cfg:     cfg,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultSMTPTimeout
	}
	s.sendMail = s.deliver
	return s
}

// Send はメッセージを送信する。
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateHeaders(msg); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(ctx, addr, auth, s.cfg.From, []string{msg.To}, s.render(msg)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("failed to send mail via %s: %w", addr, ctxErr)
		}
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

// deliver は smtp.SendMail と同じ手順で配送する。
// 接続には期限を設定し、ctxがキャンセルされた時点で接続を閉じる。
func (s *SMTPSender) deliver(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *SMTPSender) render(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("Date: " + s.now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender はメールを送信せずログに出力する開発用の実装。
// 本文には使い捨てトークン入りのリンクが含まれるため、Debugレベルでのみ出力する。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send はメッセージをログに出力する。
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := validateHeaders(msg); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail delivery skipped (SMTP not configured)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	s.logger.DebugContext(ctx, "mail body", slog.String("body", msg.Body))
	return nil
}

func validateHeaders(msg Message) error {
	if msg.To == "" {
		return errors.New("mail recipient is empty")
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return ErrHeaderInjection
	}
	return nil
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
