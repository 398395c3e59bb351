package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/prompt"
	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const (
	DefaultModel           = "gpt-5-mini"
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultReasoningEffort = "minimal"
	requestTimeout         = 60 * time.Second
)

// ErrUnavailable means the LLM endpoint could not be reached or answered with an error status
var ErrUnavailable = errors.New("llm service unavailable")

// Options configures the LLM client
type Options struct {
	APIKey          string
	Model           string
	BaseURL         string
	ReasoningEffort string
	// Temperature is only sent to models that don't take a reasoning effort. Nil leaves the server default.
	Temperature *float32
	Timeout     time.Duration
}

// Client turns an instruction set into a task draft through a chat completion endpoint
type Client struct {
	api     *openai.Client
	opts    Options
	logger  *logging.Logger
	initErr error
}

// NewClient creates a new LLM client.
// Missing settings are reported by RequestTaskDraft so construction never fails.
func NewClient(opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = requestTimeout
	}

	c := &Client{opts: opts, logger: logger}
	switch {
	case strings.TrimSpace(opts.APIKey) == "":
		c.initErr = &apperrors.ConfigError{Field: "OPENAI_API_KEY"}
		return c
	case strings.TrimSpace(opts.Model) == "":
		c.initErr = &apperrors.ConfigError{Field: "OPENAI_MODEL"}
		return c
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.opts.Model
}

// RequestTaskDraft sends the instruction set and parses the first JSON object of the reply.
//
// Errors are a *errors.ConfigError for missing settings, ErrUnavailable (wrapped) for
// transport or status failures, and *errors.MalformedOutputError when the reply has no
// usable draft. No retry is attempted.
func (c *Client) RequestTaskDraft(ctx context.Context, messages []prompt.Message) (*vikunja.TaskDraft, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}

	req := openai.ChatCompletionRequest{
		Model:    c.opts.Model,
		Messages: convertMessages(messages),
	}
	if isReasoningModel(c.opts.Model) {
		req.ReasoningEffort = c.opts.ReasoningEffort
	} else if c.opts.Temperature != nil {
		req.Temperature = *c.opts.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("LLM request failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("LLM returned no choices")
		return nil, fmt.Errorf("%w: no choices in response", ErrUnavailable)
	}

	content := resp.Choices[0].Message.Content
	draft, dropped, err := extractDraft(content)
	if err != nil {
		c.logger.Error("Could not parse LLM reply: %v", err)
		return nil, err
	}
	if len(dropped) > 0 {
		c.logger.Warn("Ignored unusable draft fields: %s", strings.Join(dropped, ", "))
	}

	c.logger.Info("LLM proposed task '%s'", draft.Title)
	return draft, nil
}

// ExtractJSONObject returns the text between the first '{' and the last '}' decoded as an object
func ExtractJSONObject(text string) (map[string]json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, &apperrors.MalformedOutputError{Reason: "no JSON object found", Raw: text}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, &apperrors.MalformedOutputError{Reason: "invalid JSON: " + err.Error(), Raw: text}
	}
	if obj == nil {
		return nil, &apperrors.MalformedOutputError{Reason: "JSON is not an object", Raw: text}
	}
	return obj, nil
}

// ExtractDraft parses a free text reply into a draft with a non-empty title.
// Optional fields that cannot be converted are left empty.
func ExtractDraft(text string) (*vikunja.TaskDraft, error) {
	draft, _, err := extractDraft(text)
	return draft, err
}

// extractDraft also returns the names of the optional fields it had to drop
func extractDraft(text string) (*vikunja.TaskDraft, []string, error) {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return nil, nil, err
	}

	// Some models wrap the payload in a container object
	if inner, ok := obj["task_data"]; ok {
		if _, hasTitle := obj["title"]; !hasTitle {
			nested, err := ExtractJSONObject(string(inner))
			if err != nil {
				return nil, nil, err
			}
			obj = nested
		}
	}

	d := draftDecoder{obj: obj}
	draft := vikunja.TaskDraft{
		Title:          d.str("title"),
		Description:    d.str("description"),
		ProjectID:      d.integer("project_id"),
		DueDate:        d.str("due_date"),
		Priority:       int(d.integer("priority")),
		RepeatAfter:    d.integer("repeat_after"),
		LabelIDs:       d.integers("label_ids"),
		LabelsToCreate: d.strs("labels_to_create"),
		Assignee:       d.str("assignee"),
	}
	if !draft.HasTitle() {
		return nil, nil, &apperrors.MalformedOutputError{Reason: "missing required 'title'", Raw: text}
	}
	draft.Title = strings.TrimSpace(draft.Title)
	return &draft, d.dropped, nil
}

// draftDecoder reads draft fields leniently. Numbers may arrive as strings or
// whole floats. Values that cannot be converted are recorded in dropped.
type draftDecoder struct {
	obj     map[string]json.RawMessage
	dropped []string
}

func (d *draftDecoder) value(field string) (interface{}, bool) {
	raw, ok := d.obj[field]
	if !ok {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func (d *draftDecoder) drop(field string) {
	d.dropped = append(d.dropped, field)
}

func (d *draftDecoder) str(field string) string {
	v, ok := d.value(field)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.drop(field)
		return ""
	}
	return s
}

func (d *draftDecoder) integer(field string) int64 {
	v, ok := d.value(field)
	if !ok {
		return 0
	}
	n, ok := toInt(v)
	if !ok {
		d.drop(field)
		return 0
	}
	return n
}

func (d *draftDecoder) integers(field string) []int64 {
	v, ok := d.value(field)
	if !ok {
		return nil
	}
	items, isList := v.([]interface{})
	if !isList {
		items = []interface{}{v}
	}
	var out []int64
	for _, item := range items {
		n, ok := toInt(item)
		if !ok {
			d.drop(field)
			continue
		}
		out = append(out, n)
	}
	return out
}

func (d *draftDecoder) strs(field string) []string {
	v, ok := d.value(field)
	if !ok {
		return nil
	}
	items, isList := v.([]interface{})
	if !isList {
		items = []interface{}{v}
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			d.drop(field)
			continue
		}
		out = append(out, s)
	}
	return out
}

// toInt accepts whole JSON numbers and numeric strings
func toInt(v interface{}) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func convertMessages(msgs []prompt.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == prompt.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// isReasoningModel reports whether model takes reasoning_effort instead of temperature
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
