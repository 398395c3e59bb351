package config

import (
	"os"
	"strings"

	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

// Config holds the service configuration
type Config struct {
	HTTPPort        string
	RabbitMQURL     string
	TwilioAuthToken string
	// PublicURL is the externally visible base URL Twilio signs requests against
	PublicURL string
	Language  string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnvOrDefault("HTTP_PORT", "8080"),
		RabbitMQURL:     os.Getenv("RABBITMQ_URL"),
		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		PublicURL:       strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		Language:        strings.ToLower(getEnvOrDefault("LANGUAGE", "en")),
	}

	if cfg.RabbitMQURL == "" {
		return nil, &apperrors.ConfigError{Field: "RABBITMQ_URL"}
	}

	return cfg, nil
}

// WebhookURL is the signed URL for path, or "" when no public URL is configured
func (c *Config) WebhookURL(path string) string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + path
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
