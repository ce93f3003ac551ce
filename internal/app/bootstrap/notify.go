package bootstrap

import (
	appconfig "github.com/wolfman30/clinicops/internal/config"
	"github.com/wolfman30/clinicops/internal/notify"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// BuildEmailSender selects the configured email provider. Missing credentials
// fall back to the stub sender, reported through the returned provider name.
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
			Host:      cfg.SendGridHost,
		}, logger); sg != nil {
			return sg, "sendgrid"
		}
		logger.Warn("sendgrid selected without api key; using stub email sender")
	case "ses":
		if ses != nil && cfg.SESFromEmail != "" {
			return notify.NewSESSender(ses, notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SESFromName}, logger), "ses"
		}
		logger.Warn("ses selected without a client or sender address; using stub email sender")
	}
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildSMSSender selects the configured SMS provider, falling back to the stub.
func BuildSMSSender(cfg *appconfig.Config, logger *logging.Logger) (notify.SMSSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SMSProvider == "twilio" {
		if tw := notify.NewTwilioSMSSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger); tw != nil {
			return tw, "twilio"
		}
		logger.Warn("twilio selected without credentials; using stub sms sender")
	}
	return notify.NewStubSMSSender(logger), "stub"
}
