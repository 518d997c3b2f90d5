package mailer

import (
	"context"
	"fmt"
	"time"

	"evshop-payment/config"
	"evshop-payment/internal/util"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is one outgoing e-mail
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends e-mail over SMTP
type Mailer struct {
	client   *mail.Client
	from     string
	fromName string
	logger   *zap.Logger
}

// New creates an SMTP mailer. No connection is made until the first send.
func New(cfg config.SMTPConfig) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not initialize smtp client: %w", err)
	}
	return &Mailer{
		client:   c,
		from:     cfg.From,
		fromName: cfg.FromName,
		logger:   util.GetLogger(),
	}, nil
}

// Compose builds the MIME message for m
func (s *Mailer) Compose(m *Message) (*mail.Msg, error) {
	if len(m.To) == 0 {
		return nil, fmt.Errorf("mail has no recipients")
	}
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return nil, fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("failed to set To address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	return msg, nil
}

// Send delivers m
func (s *Mailer) Send(ctx context.Context, m *Message) error {
	msg, err := s.Compose(m)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	s.logger.Debug("Mail sent", zap.Strings("to", m.To), zap.String("subject", m.Subject))
	return nil
}
