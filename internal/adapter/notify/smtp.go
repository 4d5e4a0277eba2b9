package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/reputation"
)

var _ reputation.Notifier = (*SMTPNotifier)(nil)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig addresses the relay used for admin mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPNotifier mails alerts to the configured admin addresses.
type SMTPNotifier struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	send sendFunc
}

// NewSMTPNotifier validates cfg and builds the notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp notifier requires a host")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("smtp notifier requires at least one recipient")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		auth: auth,
		from: from,
		to:   cfg.To,
		send: smtp.SendMail,
	}, nil
}

// Notify sends the alert. net/smtp has no context support, so the send
// runs in the background and ctx bounds how long Notify waits for it.
func (n *SMTPNotifier) Notify(ctx context.Context, alert domain.SecurityAlert) error {
	msg, err := buildMessage(n.from, n.to, alert)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- n.send(n.addr, n.auth, n.from, n.to, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send alert mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send alert mail: %w", ctx.Err())
	}
}

func buildMessage(from string, to []string, alert domain.SecurityAlert) ([]byte, error) {
	details, err := json.MarshalIndent(alert.Context, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode alert context: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(alert))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Type: %s\r\n", alert.AlertType)
	fmt.Fprintf(&b, "Severity: %s\r\n", alert.Severity)
	fmt.Fprintf(&b, "Time: %s\r\n", alert.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Message: %s\r\n\r\n", alert.Message)
	b.WriteString("Context:\r\n")
	b.Write(details)
	b.WriteString("\r\n")
	return []byte(b.String()), nil
}
