// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

// Package mail delivers account email to users.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Notifier sends account-related email.
type Notifier interface {
	// SendPasswordReset delivers a password reset link to the given address.
	SendPasswordReset(ctx context.Context, to, link string) error
}

// PasswordResetLink builds the reset URL the user follows from their inbox.
func PasswordResetLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	// Addr is the SMTP server in "host:port" form.
	Addr string
	// From is the envelope and header sender address.
	From string
	// Username and Password enable PLAIN auth when Username is non-empty.
	Username string
	Password string
}

// SMTPNotifier delivers mail over a plain SMTP connection.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates an SMTP-backed Notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Addr == "" {
		return nil, oops.Errorf("smtp address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, oops.Code("MAIL_INVALID_ADDR").
			With("addr", cfg.Addr).
			Wrap(err)
	}
	if cfg.From == "" {
		return nil, oops.Errorf("smtp from address is required")
	}
	return &SMTPNotifier{cfg: cfg}, nil
}

// SendPasswordReset sends a plain-text message containing the reset link.
// net/smtp does not take a context, so cancellation is only honored before
// the dial.
func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").Wrap(err)
	}
	if to == "" {
		return oops.Code("MAIL_SEND_FAILED").Errorf("recipient address is empty")
	}

	msg := buildPasswordResetMessage(n.cfg.From, to, link)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		host, _, _ := net.SplitHostPort(n.cfg.Addr)
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}

	if err := smtp.SendMail(n.cfg.Addr, auth, n.cfg.From, []string{to}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("smtp_addr", n.cfg.Addr).
			Wrap(err)
	}
	return nil
}

func buildPasswordResetMessage(from, to, link string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Password reset\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString("A password reset was requested for your account.\r\n")
	b.WriteString("\r\n")
	b.WriteString("Follow this link to choose a new password:\r\n")
	b.WriteString("\r\n")
	b.WriteString(link + "\r\n")
	b.WriteString("\r\n")
	b.WriteString("If you did not request this, you can ignore this message.\r\n")
	return []byte(b.String())
}

var _ Notifier = (*SMTPNotifier)(nil)
