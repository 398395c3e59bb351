package config

import (
	"errors"
	"os"

	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

// Config holds the notifier service configuration
type Config struct {
	RabbitMQURL       string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	// AdminPhoneNumber receives re-authentication alerts; empty only logs them
	AdminPhoneNumber string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		AdminPhoneNumber:  os.Getenv("ADMIN_PHONE_NUMBER"),
	}

	var errs []error
	for _, req := range []struct{ field, val string }{
		{"RABBITMQ_URL", cfg.RabbitMQURL},
		{"TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", cfg.TwilioPhoneNumber},
	} {
		if req.val == "" {
			errs = append(errs, &apperrors.ConfigError{Field: req.field})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return cfg, nil
}
