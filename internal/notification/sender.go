package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"gopkg.in/gomail.v2"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages through one transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the SMTP connection settings.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	UseTLS        bool
	SkipTLSVerify bool
}

// SMTPSender sends plain-text mail.
type SMTPSender struct {
	config SMTPConfig
	dial   func(m *gomail.Message) error
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host cannot be empty")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address cannot be empty")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.UseTLS {
		dialer.TLSConfig = &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.SkipTLSVerify}
	}

	return &SMTPSender{config: cfg, dial: func(m *gomail.Message) error {
		return dialer.DialAndSend(m)
	}}, nil
}

// Send sends msg to every recipient. Messages without recipients are skipped.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dial(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// SlackSender posts messages to an incoming webhook.
type SlackSender struct {
	webhookURL string
	channel    string
}

// NewSlackSender creates a Slack webhook sender.
func NewSlackSender(webhookURL, channel string) (*SlackSender, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook url cannot be empty")
	}
	return &SlackSender{webhookURL: webhookURL, channel: channel}, nil
}

// Send posts the subject and the body as a preformatted block.
func (s *SlackSender) Send(ctx context.Context, msg Message) error {
	payload := &slack.WebhookMessage{
		Channel: s.channel,
		Text:    fmt.Sprintf("*%s*\n```\n%s```", msg.Subject, msg.Body),
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, payload); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	return nil
}

// LogSender writes messages to the log. It stands in when no transport is configured.
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	}).Info(msg.Body)
	return nil
}

// MultiSender delivers through every sender and joins their errors.
type MultiSender []Sender

// Send calls every sender, even after a failure.
func (m MultiSender) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, sender := range m {
		if err := sender.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
