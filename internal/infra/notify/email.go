package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/dskam73/interview-automation/internal/domain"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type emailNotifier struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailNotifier(cfg Config) *emailNotifier {
	return &emailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Notify sends one message to all recipients with the attachments inlined.
// Callers treat failures as non-fatal; the job result is already persisted
// by the time this runs.
func (n *emailNotifier) Notify(ctx context.Context, recipients []string, subject, body string, attachments []domain.Attachment) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	for _, att := range attachments {
		data := att.Data
		msg.Attach(att.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := n.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	slog.Debug("notification sent",
		slog.Int("recipients", len(recipients)),
		slog.String("subject", subject),
	)

	return nil
}

// noopNotifier is used when SMTP is not configured.
type noopNotifier struct{}

func NewNoopNotifier() *noopNotifier { return &noopNotifier{} }

func (n *noopNotifier) Notify(_ context.Context, recipients []string, subject, _ string, _ []domain.Attachment) error {
	slog.Info("smtp disabled, skipping notification",
		slog.Int("recipients", len(recipients)),
		slog.String("subject", subject),
	)
	return nil
}
