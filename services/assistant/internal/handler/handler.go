package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/ai"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/config"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/consumer"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/prompt"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/publisher"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/response"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

// VoiceLabelName is attached to every task created by voice when auto labelling is on
const VoiceLabelName = "voice"

// Result is what one voice command produces
type Result struct {
	Success bool
	Message string
	Title   string
}

// TaskService is the part of the Vikunja client the pipeline uses
type TaskService interface {
	GetProjects(ctx context.Context) ([]vikunja.Project, error)
	GetLabels(ctx context.Context) ([]vikunja.Label, error)
	CreateLabel(ctx context.Context, name string) (*vikunja.Label, error)
	AddLabelToTask(ctx context.Context, taskID, labelID int64) (bool, error)
	AddTask(ctx context.Context, draft vikunja.TaskDraft) (*vikunja.CreatedTask, error)
	AssignUserToTask(ctx context.Context, taskID, userID int64) (bool, error)
}

// DraftRequester turns an instruction set into a task draft
type DraftRequester interface {
	RequestTaskDraft(ctx context.Context, messages []prompt.Message) (*vikunja.TaskDraft, error)
}

// UserDirectory is the user cache. It is refreshed by the scheduler, never per request.
type UserDirectory interface {
	Users() []vikunja.User
	FindUser(lookup string) (vikunja.User, bool)
}

// Confirmer renders spoken replies
type Confirmer interface {
	Confirmation(in response.Input) string
	Terse(lang, title string) string
	Message(lang, key string) string
}

// ReauthRequester is told when Vikunja rejects our credentials
type ReauthRequester interface {
	RequestReauth(ctx context.Context, reason string) error
}

// ReplyPublisher delivers spoken replies
type ReplyPublisher interface {
	PublishReply(ctx context.Context, reply publisher.Reply) error
}

// Deps are the collaborators of a Handler. Users, Reauth and Replies may be nil.
type Deps struct {
	Tasks     TaskService
	LLM       DraftRequester
	Users     UserDirectory
	Reauth    ReauthRequester
	Replies   ReplyPublisher
	Formatter Confirmer
}

// Handler runs the utterance-to-task pipeline
type Handler struct {
	settings  config.Settings
	tasks     TaskService
	llm       DraftRequester
	users     UserDirectory
	reauth    ReauthRequester
	replies   ReplyPublisher
	formatter Confirmer
	logger    *logging.Logger
	now       func() time.Time
}

// New creates a new task handler
func New(settings config.Settings, deps Deps, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	var formatter Confirmer = response.NewFormatter(nil)
	if deps.Formatter != nil {
		formatter = deps.Formatter
	}
	return &Handler{
		settings:  settings,
		tasks:     deps.Tasks,
		llm:       deps.LLM,
		users:     deps.Users,
		reauth:    deps.Reauth,
		replies:   deps.Replies,
		formatter: formatter,
		logger:    logger,
		now:       time.Now,
	}
}

// With returns a copy of the handler whose log lines carry key=value
func (h *Handler) With(key, value string) *Handler {
	scoped := *h
	scoped.logger = h.logger.With(key, value)
	return &scoped
}

// Handle processes a single utterance from the bus and publishes the reply
func (h *Handler) Handle(ctx context.Context, msg *consumer.IntentMessage) error {
	lang := msg.Language
	if lang == "" {
		lang = h.settings.Language
	}

	result := h.process(ctx, msg.Utterance, lang)
	h.logger.Info("Task result for %s: success=%t message=%s", msg.UserID, result.Success, result.Message)

	if h.replies == nil {
		return nil
	}
	reply := publisher.Reply{
		UserID:  msg.UserID,
		Message: result.Message,
		Success: result.Success,
		Title:   result.Title,
	}
	if err := h.replies.PublishReply(ctx, reply); err != nil {
		h.logger.Error("Failed to publish reply: %v", err)
		return fmt.Errorf("failed to publish reply: %w", err)
	}
	return nil
}

// ProcessTask turns a spoken description into a Vikunja task.
// It never panics and always returns a message that can be spoken.
func (h *Handler) ProcessTask(ctx context.Context, description string) Result {
	return h.process(ctx, description, h.settings.Language)
}

func (h *Handler) process(ctx context.Context, description, lang string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Unexpected error while processing '%s': %v", description, r)
			result = h.failure(lang, "unexpected_error")
		}
	}()

	if err := h.settings.Validate(); err != nil {
		h.logger.Error("Configuration incomplete: %v", err)
		return h.failure(lang, "config_error")
	}

	projects, labels, err := h.fetchContext(ctx)
	if err != nil {
		return h.authFailure(ctx, lang, err)
	}

	var voiceLabel *vikunja.Label
	if h.settings.AutoVoiceLabel {
		voiceLabel, err = h.ensureVoiceLabel(ctx, labels)
		if err != nil {
			return h.authFailure(ctx, lang, err)
		}
		if voiceLabel != nil {
			if _, ok := vikunja.FindLabel(labels, voiceLabel.Title); !ok {
				labels = append(labels, *voiceLabel)
			}
		}
	}

	var users []vikunja.User
	if h.settings.UserAssignment && h.users != nil {
		users = h.users.Users()
	}

	messages := prompt.Build(prompt.Input{
		Description:     description,
		Projects:        projects,
		Labels:          labels,
		DefaultDueDate:  h.settings.DefaultDueDate,
		VoiceCorrection: h.settings.VoiceCorrection,
		Users:           users,
		UserAssignment:  h.settings.UserAssignment,
		Now:             h.now(),
	})

	draft, err := h.llm.RequestTaskDraft(ctx, messages)
	if err != nil {
		return h.draftFailure(lang, err)
	}
	if draft == nil {
		h.logger.Error("LLM returned no draft")
		return h.failure(lang, "llm_conn_error")
	}
	if !draft.HasTitle() {
		h.logger.Error("LLM draft has no title")
		return h.failure(lang, "llm_missing_title")
	}

	labelIDs := filterLabelIDs(draft.LabelIDs, labels)
	if dropped := len(draft.LabelIDs) - len(labelIDs); dropped > 0 {
		h.logger.Warn("Dropped %d unknown label id(s) from draft", dropped)
	}
	assignee := strings.TrimSpace(draft.Assignee)
	toCreate := draft.LabelsToCreate

	task := *draft
	task.LabelIDs = nil
	task.LabelsToCreate = nil
	task.Assignee = ""

	created, err := h.tasks.AddTask(ctx, task)
	if err != nil {
		return h.authFailure(ctx, lang, err)
	}
	if created == nil {
		h.logger.Error("Vikunja did not create task '%s'", task.Title)
		return h.failure(lang, "vikunja_add_error")
	}
	h.logger.Info("Created task %d '%s' in project %d", created.ID, task.Title, task.Project())

	// Nothing below can turn the result into a failure
	attachIDs := labelIDs
	if len(toCreate) > 0 {
		var extra []vikunja.Label
		attachIDs, extra = h.resolveNewLabels(ctx, attachIDs, toCreate, labels)
		labels = append(labels, extra...)
	}
	if voiceLabel != nil {
		attachIDs = append(attachIDs, voiceLabel.ID)
	}
	attached := h.attachLabels(ctx, created.ID, dedupe(attachIDs))

	assigned := ""
	if h.settings.UserAssignment && assignee != "" {
		assigned = h.assign(ctx, created.ID, assignee)
	}

	task.ProjectID = task.Project()
	message := h.confirm(response.Input{
		Title:            task.Title,
		Draft:            task,
		Projects:         projects,
		Labels:           labels,
		AttachedLabelIDs: withoutLabel(attached, voiceLabel),
		Assignee:         assigned,
		UserAssignment:   h.settings.UserAssignment,
		Detailed:         h.settings.DetailedResponse,
		Language:         lang,
	})

	return Result{Success: true, Message: message, Title: task.Title}
}

// CreateTask adds a structured task directly, without the LLM.
// The voice label is not applied.
func (h *Handler) CreateTask(ctx context.Context, draft vikunja.TaskDraft) (*vikunja.CreatedTask, error) {
	if err := h.settings.Validate(); err != nil {
		return nil, err
	}
	if !draft.HasTitle() {
		return nil, &apperrors.ValidationError{Field: "title", Message: "must not be empty"}
	}

	created, err := h.tasks.AddTask(ctx, draft)
	if err != nil {
		h.requestReauth(ctx, err)
		return nil, err
	}
	if created == nil {
		return nil, &apperrors.RequestError{Op: "create task"}
	}

	if len(draft.LabelIDs) > 0 {
		labels, err := h.tasks.GetLabels(ctx)
		if err != nil {
			h.requestReauth(ctx, err)
			return created, nil
		}
		h.attachLabels(ctx, created.ID, dedupe(filterLabelIDs(draft.LabelIDs, labels)))
	}
	return created, nil
}

// fetchContext loads projects and labels concurrently. Either list may come back empty.
func (h *Handler) fetchContext(ctx context.Context) ([]vikunja.Project, []vikunja.Label, error) {
	var (
		wg         sync.WaitGroup
		projects   []vikunja.Project
		labels     []vikunja.Label
		projectErr error
		labelErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		projects, projectErr = h.tasks.GetProjects(ctx)
	}()
	go func() {
		defer wg.Done()
		labels, labelErr = h.tasks.GetLabels(ctx)
	}()
	wg.Wait()

	if err := errors.Join(projectErr, labelErr); err != nil {
		return nil, nil, err
	}
	return projects, labels, nil
}

// ensureVoiceLabel finds or creates the voice label. Only authentication errors are returned.
func (h *Handler) ensureVoiceLabel(ctx context.Context, labels []vikunja.Label) (*vikunja.Label, error) {
	if l, ok := vikunja.FindLabel(labels, VoiceLabelName); ok {
		return &l, nil
	}

	created, err := h.tasks.CreateLabel(ctx, VoiceLabelName)
	if err != nil {
		return nil, err
	}
	if created == nil {
		h.logger.Warn("Could not create the '%s' label, continuing without it", VoiceLabelName)
		return nil, nil
	}
	h.logger.Info("Created '%s' label with id %d", VoiceLabelName, created.ID)
	return created, nil
}

// resolveNewLabels maps each requested name to an existing label or a newly created one
func (h *Handler) resolveNewLabels(ctx context.Context, ids []int64, names []string, labels []vikunja.Label) ([]int64, []vikunja.Label) {
	var created []vikunja.Label
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if l, ok := vikunja.FindLabel(labels, name); ok {
			ids = append(ids, l.ID)
			continue
		}
		if l, ok := vikunja.FindLabel(created, name); ok {
			ids = append(ids, l.ID)
			continue
		}

		l, err := h.tasks.CreateLabel(ctx, name)
		if err != nil {
			h.requestReauth(ctx, err)
			continue
		}
		if l == nil {
			h.logger.Warn("Could not create label '%s'", name)
			continue
		}
		created = append(created, *l)
		ids = append(ids, l.ID)
	}
	return ids, created
}

// attachLabels returns the ids that were attached
func (h *Handler) attachLabels(ctx context.Context, taskID int64, ids []int64) []int64 {
	var attached []int64
	for _, id := range ids {
		ok, err := h.tasks.AddLabelToTask(ctx, taskID, id)
		if err != nil {
			h.requestReauth(ctx, err)
			continue
		}
		if !ok {
			h.logger.Warn("Could not attach label %d to task %d", id, taskID)
			continue
		}
		attached = append(attached, id)
	}
	return attached
}

// assign resolves the spoken assignee and returns the name to announce, or ""
func (h *Handler) assign(ctx context.Context, taskID int64, assignee string) string {
	if h.users == nil {
		return ""
	}
	user, ok := h.users.FindUser(assignee)
	if !ok {
		h.logger.Warn("No cached user matches assignee '%s'", assignee)
		return ""
	}

	ok, err := h.tasks.AssignUserToTask(ctx, taskID, user.ID)
	if err != nil {
		h.requestReauth(ctx, err)
		return ""
	}
	if !ok {
		h.logger.Warn("Could not assign user %d to task %d", user.ID, taskID)
		return ""
	}
	return assignee
}

// confirm formats the success reply, falling back to the terse sentence on panic
func (h *Handler) confirm(in response.Input) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Formatting the confirmation failed: %v", r)
			msg = h.formatter.Terse(in.Language, in.Title)
		}
	}()
	return h.formatter.Confirmation(in)
}

func (h *Handler) draftFailure(lang string, err error) Result {
	var cfgErr *apperrors.ConfigError
	var malformed *apperrors.MalformedOutputError
	switch {
	case errors.As(err, &cfgErr):
		h.logger.Error("LLM configuration incomplete: %v", err)
		return h.failure(lang, "config_error")
	case errors.As(err, &malformed):
		return h.failure(lang, "llm_missing_title")
	default:
		return h.failure(lang, "llm_conn_error")
	}
}

// authFailure reports a pre-creation error. Only authentication errors reach here.
func (h *Handler) authFailure(ctx context.Context, lang string, err error) Result {
	if h.requestReauth(ctx, err) {
		return h.failure(lang, "auth_error")
	}
	h.logger.Error("Unexpected error from Vikunja: %v", err)
	return h.failure(lang, "unexpected_error")
}

// requestReauth calls the re-authentication hook when err is an authentication error
func (h *Handler) requestReauth(ctx context.Context, err error) bool {
	if !isAuthError(err) {
		h.logger.Error("Vikunja call failed: %v", err)
		return false
	}
	h.logger.Error("Vikunja rejected the API token: %v", err)
	if h.reauth != nil {
		if hookErr := h.reauth.RequestReauth(ctx, err.Error()); hookErr != nil {
			h.logger.Error("Failed to request re-authentication: %v", hookErr)
		}
	}
	return true
}

func (h *Handler) failure(lang, key string) Result {
	return Result{Success: false, Message: h.formatter.Message(lang, key)}
}

func isAuthError(err error) bool {
	var authErr *apperrors.AuthenticationError
	return errors.As(err, &authErr)
}

// filterLabelIDs keeps only ids present in labels, in draft order
func filterLabelIDs(ids []int64, labels []vikunja.Label) []int64 {
	known := make(map[int64]bool, len(labels))
	for _, l := range labels {
		known[l.ID] = true
	}
	var out []int64
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func withoutLabel(ids []int64, label *vikunja.Label) []int64 {
	if label == nil {
		return ids
	}
	var out []int64
	for _, id := range ids {
		if id != label.ID {
			out = append(out, id)
		}
	}
	return out
}

var _ DraftRequester = (*ai.Client)(nil)
var _ TaskService = (*vikunja.Client)(nil)
var _ Confirmer = (*response.Formatter)(nil)
