// Package notify fans a single logical message out to SMS, email and in-app
// channels. Channels fail independently; a failed channel never fails the call.
package notify

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/pkg/logging"
)

var dispatchTracer = otel.Tracer("clinicops.internal.notify")

// Channel names a delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

const defaultChannelTimeout = 10 * time.Second

// Recipient identifies who receives an envelope on each channel.
type Recipient struct {
	UserID string
	Name   string
	Phone  string
	Email  string
}

// InAppContent is the in-app channel payload.
type InAppContent struct {
	Type      string
	Priority  Priority
	Title     string
	Message   string
	ActionURL string
}

// Envelope is one logical message to one recipient.
type Envelope struct {
	TenantID  string
	Recipient Recipient
	Subject   string
	SMSBody   string
	EmailText string
	EmailHTML string
	InApp     *InAppContent
	// Channels limits delivery to the listed channels. Empty means all.
	Channels []Channel
}

// For returns a copy addressed to r.
func (e Envelope) For(r Recipient) Envelope {
	e.Recipient = r
	return e
}

func (e Envelope) wants(c Channel) bool {
	if len(e.Channels) == 0 {
		return true
	}
	for _, want := range e.Channels {
		if want == c {
			return true
		}
	}
	return false
}

// Result reports which channels delivered.
type Result struct {
	SMSSent      bool `json:"sms_sent"`
	EmailSent    bool `json:"email_sent"`
	InAppCreated bool `json:"in_app_created"`
}

// Notifier is implemented by *Dispatcher. Services depend on it so tests can
// record envelopes.
type Notifier interface {
	Dispatch(ctx context.Context, env Envelope) Result
}

// Any reports whether at least one channel delivered.
func (r Result) Any() bool {
	return r.SMSSent || r.EmailSent || r.InAppCreated
}

// Dispatcher delivers envelopes.
type Dispatcher struct {
	sms     SMSSender
	email   EmailSender
	inApp   InAppStore
	timeout time.Duration
	metrics *metrics.AutomationMetrics
	logger  *logging.Logger
}

// NewDispatcher builds a dispatcher. Nil senders disable their channel.
func NewDispatcher(sms SMSSender, email EmailSender, inApp InAppStore, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		sms:     sms,
		email:   email,
		inApp:   inApp,
		timeout: defaultChannelTimeout,
		logger:  logger,
	}
}

// WithChannelTimeout bounds each channel attempt.
func (d *Dispatcher) WithChannelTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.AutomationMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Dispatch attempts every applicable channel and reports which succeeded.
// It never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) Result {
	ctx, span := dispatchTracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.tenant_id", env.TenantID))

	var res Result
	r := env.Recipient

	if d.sms != nil && env.wants(ChannelSMS) && r.Phone != "" && env.SMSBody != "" {
		res.SMSSent = d.attempt(ctx, ChannelSMS, env, func(ctx context.Context) error {
			return d.sms.SendSMS(ctx, r.Phone, env.SMSBody)
		})
	}

	if d.email != nil && env.wants(ChannelEmail) && r.Email != "" && (env.EmailText != "" || env.EmailHTML != "") {
		res.EmailSent = d.attempt(ctx, ChannelEmail, env, func(ctx context.Context) error {
			return d.email.Send(ctx, EmailMessage{
				To:      r.Email,
				ToName:  r.Name,
				Subject: env.Subject,
				Body:    env.EmailText,
				HTML:    env.EmailHTML,
			})
		})
	}

	if d.inApp != nil && env.wants(ChannelInApp) && r.UserID != "" && env.InApp != nil {
		res.InAppCreated = d.attempt(ctx, ChannelInApp, env, func(ctx context.Context) error {
			return d.inApp.Create(ctx, &InAppNotification{
				TenantID:  env.TenantID,
				UserID:    r.UserID,
				Type:      env.InApp.Type,
				Priority:  env.InApp.Priority,
				Title:     env.InApp.Title,
				Message:   env.InApp.Message,
				ActionURL: env.InApp.ActionURL,
			})
		})
	}

	span.SetAttributes(
		attribute.Bool("notify.sms_sent", res.SMSSent),
		attribute.Bool("notify.email_sent", res.EmailSent),
		attribute.Bool("notify.in_app_created", res.InAppCreated),
	)
	return res
}

// attempt runs one channel under its own timeout and converts panics and
// errors into a false result.
func (d *Dispatcher) attempt(ctx context.Context, ch Channel, env Envelope, send func(context.Context) error) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("notify: channel panicked", "channel", ch, "tenant_id", env.TenantID, "panic", p)
			d.metrics.ObserveDispatch(string(ch), "failed")
			ok = false
		}
	}()

	if err := send(ctx); err != nil {
		d.logger.Warn("notify: channel failed", "channel", ch, "tenant_id", env.TenantID, "error", err)
		d.metrics.ObserveDispatch(string(ch), "failed")
		return false
	}
	d.metrics.ObserveDispatch(string(ch), "sent")
	return true
}

var _ Notifier = (*Dispatcher)(nil)
