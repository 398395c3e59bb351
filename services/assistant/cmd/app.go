package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/ai"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/config"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/handler"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/response"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/usercache"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

// app holds the collaborators every command shares
type app struct {
	settings *config.Settings
	logger   *logging.Logger
	vikunja  *vikunja.Client
	llm      *ai.Client
	users    *usercache.Manager
	closers  []func() error
}

func newApp(ctx context.Context, logger *logging.Logger) (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{settings: settings, logger: logger}

	a.vikunja = vikunja.NewClient(settings.VikunjaURL, settings.VikunjaToken, settings.RequestTimeout, logger.With("component", "vikunja"))

	a.llm = ai.NewClient(ai.Options{
		APIKey:          settings.OpenAIAPIKey,
		Model:           settings.OpenAIModel,
		BaseURL:         settings.OpenAIBaseURL,
		ReasoningEffort: settings.ReasoningEffort,
		Temperature:     settings.Temperature,
		Timeout:         settings.RequestTimeout,
	}, logger.With("component", "llm"))

	store, err := a.userStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.users = usercache.NewManager(a.vikunja, store, usercache.Options{
		Enabled:  settings.UserAssignment,
		Interval: settings.UserCacheRefresh,
	}, logger.With("component", "usercache"))
	a.users.Load(ctx)

	return a, nil
}

// userStore picks postgres when DATABASE_URL is set, otherwise the JSON file
func (a *app) userStore(ctx context.Context) (usercache.Store, error) {
	if a.settings.DatabaseURL == "" {
		a.logger.Debug("User cache file: %s", a.settings.UserCachePath)
		return usercache.NewFileStore(a.settings.UserCachePath), nil
	}

	db, err := usercache.Connect(a.settings.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	store := usercache.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare user cache schema: %w", err)
	}
	a.logger.Info("Connected to PostgreSQL user cache")
	return store, nil
}

func (a *app) handler(reauth handler.ReauthRequester, replies handler.ReplyPublisher) *handler.Handler {
	return handler.New(*a.settings, handler.Deps{
		Tasks:     a.vikunja,
		LLM:       a.llm,
		Users:     a.users,
		Reauth:    reauth,
		Replies:   replies,
		Formatter: response.NewFormatter(nil),
	}, a.logger.With("component", "handler"))
}

// warmUserCache forces one user cache refresh when serve starts.
// Later refreshes come from the scheduler only.
func (a *app) warmUserCache(ctx context.Context, reauth handler.ReauthRequester) {
	if !a.settings.UserAssignment {
		return
	}
	err := a.users.Refresh(ctx, true)
	if err == nil {
		return
	}
	a.logger.Error("Startup user cache refresh failed: %v", err)

	var authErr *apperrors.AuthenticationError
	if errors.As(err, &authErr) {
		if hookErr := reauth.RequestReauth(ctx, err.Error()); hookErr != nil {
			a.logger.Error("Failed to request re-authentication: %v", hookErr)
		}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed: %v", err)
		}
	}
}

// logReauth stands in for the bus when a command runs outside serve
type logReauth struct {
	logger *logging.Logger
}

func (r logReauth) RequestReauth(ctx context.Context, reason string) error {
	r.logger.Warn("Re-authentication required: %s. Update VIKUNJA_API_TOKEN.", reason)
	return nil
}
