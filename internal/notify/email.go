package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/clinicops/pkg/logging"
)

const defaultFromName = "Clinic Operations"

// EmailSender is one email transport (SendGrid, SES or the stub).
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

const sendGridMailPath = "/v3/mail/send"

// SendGridSender delivers through the SendGrid v3 mail API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the API host, e.g. a regional endpoint or a local relay.
	Host string
}

// NewSendGridSender creates a SendGrid sender, or nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if host := strings.TrimRight(cfg.Host, "/"); host != "" {
		client = &sendgrid.Client{Request: sendgrid.GetRequest(cfg.APIKey, sendGridMailPath, host)}
	}
	return &SendGridSender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

// Send posts one message. Without an HTML part the plain body is reused.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		html,
	)

	// SendWithContext writes the body into the client, so each send uses a copy.
	client := *s.client
	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid status %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	}
	s.logger.Debug("notify: email sent via sendgrid", "to", msg.To, "status", resp.StatusCode)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// StubEmailSender logs instead of sending.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("notify: stub email", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
