// Package notify delivers class reminders: console, SendGrid or SMTP.
package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"campus/internal/config"
	"campus/pkg/interfaces"
)

// New builds the notifier selected by cfg.Driver.
func New(cfg *config.NotifierConfig, lead time.Duration, log zerolog.Logger) (interfaces.Notifier, error) {
	switch cfg.Driver {
	case "", config.NotifierConsole:
		return NewConsoleNotifier(lead, log), nil

	case config.NotifierSendGrid:
		if cfg.SendGridAPIKey == "" || cfg.FromAddress == "" {
			return nil, fmt.Errorf("%w: sendgrid needs an API key and from address", ErrMissingSettings)
		}
		return NewSendGridNotifier(cfg.SendGridAPIKey, cfg.FromName, cfg.FromAddress, lead, log), nil

	case config.NotifierSMTP:
		if cfg.SMTPHost == "" || cfg.FromAddress == "" {
			return nil, fmt.Errorf("%w: smtp needs a host and from address", ErrMissingSettings)
		}
		return NewSMTPNotifier(SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromName:    cfg.FromName,
			FromAddress: cfg.FromAddress,
		}, lead, log), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
