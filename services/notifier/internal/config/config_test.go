package config

import (
	"errors"
	"testing"

	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

func setRequired(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "amqp://localhost:5672/")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123456")
	t.Setenv("TWILIO_AUTH_TOKEN", "test-token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15551234567")
	t.Setenv("ADMIN_PHONE_NUMBER", "")
}

func TestLoad_Success(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_PHONE_NUMBER", "+15550000000")

	cfg, err := Load()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RabbitMQURL != "amqp://localhost:5672/" {
		t.Errorf("expected RabbitMQURL amqp://localhost:5672/, got %s", cfg.RabbitMQURL)
	}
	if cfg.TwilioAccountSID != "AC123456" {
		t.Errorf("expected TwilioAccountSID AC123456, got %s", cfg.TwilioAccountSID)
	}
	if cfg.TwilioAuthToken != "test-token" {
		t.Errorf("expected TwilioAuthToken test-token, got %s", cfg.TwilioAuthToken)
	}
	if cfg.TwilioPhoneNumber != "+15551234567" {
		t.Errorf("expected TwilioPhoneNumber +15551234567, got %s", cfg.TwilioPhoneNumber)
	}
	if cfg.AdminPhoneNumber != "+15550000000" {
		t.Errorf("expected AdminPhoneNumber +15550000000, got %s", cfg.AdminPhoneNumber)
	}
}

func TestLoad_AdminPhoneIsOptional(t *testing.T) {
	setRequired(t)

	cfg, err := Load()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AdminPhoneNumber != "" {
		t.Errorf("expected empty AdminPhoneNumber, got %s", cfg.AdminPhoneNumber)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, field := range []string{"RABBITMQ_URL", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER"} {
		t.Run(field, func(t *testing.T) {
			setRequired(t)
			t.Setenv(field, "")

			cfg, err := Load()

			if err == nil {
				t.Fatalf("expected error when %s is missing", field)
			}
			var cfgErr *apperrors.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != field {
				t.Errorf("expected ConfigError for %s, got %v", field, err)
			}
			if cfg != nil {
				t.Error("expected nil config when error occurs")
			}
		})
	}
}
