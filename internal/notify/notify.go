package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"golang.org/x/exp/slog"
)

// CardBlocked describes a card that was blocked after repeated PIN failures.
type CardBlocked struct {
	MaskedCardNumber string
	HolderName       string
	SessionID        string
	Attempts         int
	At               time.Time
}

type Notifier interface {
	CardBlocked(ctx context.Context, ev CardBlocked) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) CardBlocked(context.Context, CardBlocked) error { return nil }

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

// SendFunc delivers a prepared message; it matches (*email.Email).Send once bound.
type SendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// EmailNotifier sends operator alerts through SMTP.
type EmailNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   SendFunc
}

func NewEmailNotifier(cfg SMTPConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "notify")),
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// WithSender replaces the SMTP delivery, used by tests.
func (n *EmailNotifier) WithSender(send SendFunc) *EmailNotifier {
	n.send = send
	return n
}

func (n *EmailNotifier) CardBlocked(ctx context.Context, ev CardBlocked) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := n.cardBlockedEmail(ev)

	addr := fmt.Sprintf("%s:%s", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := n.send(e, addr, auth); err != nil {
		n.logger.Error("sending card blocked alert", slog.String("card", ev.MaskedCardNumber), slog.Any("err", err))
		return fmt.Errorf("sending card blocked alert: %w", err)
	}

	n.logger.Info("card blocked alert sent", slog.String("card", ev.MaskedCardNumber), slog.Int("recipients", len(e.To)))
	return nil
}

func (n *EmailNotifier) cardBlockedEmail(ev CardBlocked) *email.Email {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = append([]string(nil), n.cfg.To...)
	e.Subject = fmt.Sprintf("ATM card blocked: %s", ev.MaskedCardNumber)

	var b strings.Builder
	fmt.Fprintf(&b, "Card %s was blocked after %d failed PIN attempts.\n", ev.MaskedCardNumber, ev.Attempts)
	if ev.HolderName != "" {
		fmt.Fprintf(&b, "Card holder: %s\n", ev.HolderName)
	}
	fmt.Fprintf(&b, "Session: %s\n", ev.SessionID)
	fmt.Fprintf(&b, "Time: %s\n", ev.At.UTC().Format(time.RFC3339))
	b.WriteString("\nThe card stays blocked until it is reactivated by the issuer.\n")
	e.Text = []byte(b.String())
	return e
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*EmailNotifier)(nil)
)
