package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/consumer"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/handler"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/health"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/publisher"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/schedule"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const healthProbeInterval = time.Minute

// appFactory builds the shared collaborators; tests swap it out
type appFactory func(ctx context.Context, logger *logging.Logger) (*app, error)

func newRootCommand(logger *logging.Logger) *cobra.Command {
	return buildRootCommand(logger, newApp)
}

func buildRootCommand(logger *logging.Logger, build appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "assistant",
		Short:         "Create Vikunja tasks from spoken requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(logger, build),
		newCheckCommand(logger, build),
		newRefreshUsersCommand(logger, build),
		newAddCommand(logger, build),
		newCreateTaskCommand(logger, build),
	)
	return root
}

func newServeCommand(logger *logging.Logger, build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume utterances from RabbitMQ and publish spoken replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Set up graceful shutdown
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				select {
				case <-sigChan:
					logger.Info("Shutting down...")
					cancel()
				case <-ctx.Done():
				}
			}()

			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.settings.ValidateServe(); err != nil {
				return err
			}

			pub, err := publisher.New(a.settings.RabbitMQURL)
			if err != nil {
				return err
			}
			defer pub.Close()

			cons, err := consumer.New(a.settings.RabbitMQURL, logger)
			if err != nil {
				return err
			}
			defer cons.Close()
			logger.Info("Connected to RabbitMQ")

			ticker := schedule.NewTicker(ctx, logger)
			defer ticker.Wait()

			go a.warmUserCache(ctx, pub)
			stopRefresh := a.users.SchedulePeriodicRefresh(ticker)
			defer stopRefresh()

			hs := health.New(a.vikunja, logger)
			stopProbe := hs.Watch(ctx, ticker, healthProbeInterval)
			defer stopProbe()
			go func() {
				if err := hs.Listen(ctx, a.settings.GRPCPort); err != nil {
					logger.Error("Health server stopped: %v", err)
				}
			}()

			h := a.handler(pub, pub)
			logger.Info("Starting assistant, model %s, waiting for messages...", a.llm.Model())

			err = cons.Start(ctx, func(ctx context.Context, msg *consumer.IntentMessage) error {
				id := requestID(msg.IdempotencyKey)
				log := logger.With("request_id", id)
				start := time.Now()
				err := h.With("request_id", id).Handle(ctx, msg)
				log.Info("Handled message %s from %s in %s", msg.MessageSid, msg.UserID, time.Since(start).Round(time.Millisecond))
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer error: %w", err)
			}

			logger.Info("Assistant stopped")
			return nil
		},
	}
}

func newCheckCommand(logger *logging.Logger, build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the Vikunja connection and build the initial user cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.settings.Validate(); err != nil {
				return err
			}

			if !a.vikunja.TestConnection(ctx) {
				return fmt.Errorf("could not connect to Vikunja at %s", a.settings.VikunjaURL)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to Vikunja at %s\n", a.settings.VikunjaURL)

			if !a.settings.UserAssignment {
				return nil
			}
			if err := a.users.BuildInitial(ctx); err != nil {
				return fmt.Errorf("failed to build user cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User cache holds %d users\n", len(a.users.Users()))
			return nil
		},
	}
}

func newRefreshUsersCommand(logger *logging.Logger, build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-users",
		Short: "Rebuild the user cache from every accessible project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.settings.UserAssignment {
				fmt.Fprintln(cmd.OutOrStdout(), "User assignment is disabled, nothing to refresh")
				return nil
			}
			if err := a.users.Refresh(ctx, true); err != nil {
				return fmt.Errorf("failed to refresh user cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User cache holds %d users\n", len(a.users.Users()))
			return nil
		},
	}
}

func newAddCommand(logger *logging.Logger, build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "add <utterance>",
		Short: "Run one utterance through the pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.With("request_id", requestID(""))
			a, err := build(ctx, log)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.handler(logReauth{logger: log}, nil).ProcessTask(ctx, strings.Join(args, " "))
			return printResult(cmd.OutOrStdout(), result)
		},
	}
}

func newCreateTaskCommand(logger *logging.Logger, build appFactory) *cobra.Command {
	var draft vikunja.TaskDraft

	cmd := &cobra.Command{
		Use:   "create-task",
		Short: "Create a task directly, without the LLM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.handler(logReauth{logger: logger}, nil).CreateTask(ctx, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task #%d: %s\n", created.ID, created.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&draft.Title, "title", "", "Task title (required)")
	cmd.Flags().StringVar(&draft.Description, "description", "", "Task description")
	cmd.Flags().Int64Var(&draft.ProjectID, "project-id", vikunja.DefaultProjectID, "Target project id")
	cmd.Flags().StringVar(&draft.DueDate, "due-date", "", "Due date, e.g. 2025-03-10T17:00:00Z")
	cmd.Flags().IntVar(&draft.Priority, "priority", 0, "Priority 1-5")
	cmd.Flags().Int64SliceVar(&draft.LabelIDs, "label-id", nil, "Label id to attach (repeatable)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func printResult(w io.Writer, result handler.Result) error {
	fmt.Fprintln(w, result.Message)
	if !result.Success {
		return errors.New("task was not created")
	}
	return nil
}

// requestID prefers the idempotency key so log lines can be joined with ingress
func requestID(key string) string {
	if key != "" {
		return key
	}
	return uuid.NewString()
}
