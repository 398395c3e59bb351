package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sli-cka/vikunja-voice-assistant/services/notifier/internal/config"
	"github.com/sli-cka/vikunja-voice-assistant/services/notifier/internal/consumer"
	"github.com/sli-cka/vikunja-voice-assistant/services/notifier/internal/sms"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const eventReauthRequired = "reauth_required"

func main() {
	logger := logging.New("notifier")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Create Twilio client
	smsClient := sms.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
	logger.Info("Twilio client initialized")

	// Create RabbitMQ consumer
	cons, err := consumer.New(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("Failed to create consumer: %v", err)
		os.Exit(1)
	}
	defer cons.Close()
	logger.Info("Connected to RabbitMQ")

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	logger.Info("Starting notifier, waiting for messages...")

	handlers := consumer.Handlers{
		Reply: func(ctx context.Context, msg *consumer.Reply) error {
			sid, err := smsClient.SendSMS(ctx, msg.UserID, msg.Message)
			if err != nil {
				return err
			}
			logger.Debug("Reply delivered as %s", sid)
			return nil
		},
		Event: func(ctx context.Context, msg *consumer.Event) error {
			if msg.Type != eventReauthRequired {
				logger.Warn("Ignoring unknown event type %s", msg.Type)
				return nil
			}
			logger.Warn("Vikunja re-authentication required: %s", msg.Reason)
			if cfg.AdminPhoneNumber == "" {
				return nil
			}
			text := fmt.Sprintf("Vikunja voice assistant: the API token was rejected (%s). Please update VIKUNJA_API_TOKEN.", msg.Reason)
			_, err := smsClient.SendSMS(ctx, cfg.AdminPhoneNumber, text)
			return err
		},
	}

	// Start consuming messages and sending SMS
	if err := cons.Start(ctx, handlers); err != nil && err != context.Canceled {
		logger.Error("Consumer error: %v", err)
		os.Exit(1)
	}

	logger.Info("Notifier stopped")
}
