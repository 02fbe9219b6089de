package mail

import (
	"context"
	"fmt"

	"github.com/deemkeen/fedi/util"
	gomail "github.com/wneessen/go-mail"
)

// SMTPSender sends through the configured relay.
type SMTPSender struct {
	conf util.SmtpConfig
}

func NewSMTPSender(conf util.SmtpConfig) *SMTPSender {
	return &SMTPSender{conf: conf}
}

// NewSender picks the SMTP sender when a relay is configured.
func NewSender(conf util.SmtpConfig, fallback *LogSender) Sender {
	if conf.Host == "" {
		return fallback
	}
	return NewSMTPSender(conf)
}

func (s *SMTPSender) SendMail(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.conf.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.conf.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.conf.Username),
			gomail.WithPassword(s.conf.Password),
		)
	}

	client, err := gomail.NewClient(s.conf.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) (*gomail.Msg, error) {
	from := msg.From
	if from == "" {
		from = s.conf.From
	}

	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Content)
	return m, nil
}
