package mail

import (
	"context"

	"github.com/charmbracelet/log"
)

// Message is a plain text email.
type Message struct {
	From    string
	To      string
	Subject string
	Content string
}

// Sender delivers email. Callers treat it as best-effort.
type Sender interface {
	SendMail(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	Logger *log.Logger
}

func (s *LogSender) SendMail(ctx context.Context, msg Message) error {
	s.Logger.Info("Mail", "to", msg.To, "subject", msg.Subject)
	return nil
}
