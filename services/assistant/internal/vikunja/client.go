package vikunja

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

const (
	defaultTimeout = 30 * time.Second
	maxPages       = 20
	maxErrorBody   = 512

	// Vikunja requires these on assignee creation even though it fills them itself
	assigneeCreatedPlaceholder = "1970-01-01T00:00:00.000Z"
)

// Client talks to the Vikunja REST API.
//
// Every method except TestConnection returns an error only for authentication
// failures. Any other failure is logged and turned into an empty, nil or false
// result so the caller can carry on with what it has.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a new Vikunja client. baseURL is the API root, e.g. https://tasks.example.com/api/v1
func NewClient(baseURL, token string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// TestConnection lists projects and reports whether the call succeeded
func (c *Client) TestConnection(ctx context.Context) bool {
	var projects []Project
	if _, err := c.do(ctx, http.MethodGet, "/projects", nil, nil, &projects); err != nil {
		c.logger.Error("Connection test failed: %v", err)
		return false
	}
	return true
}

// GetProjects returns every project the token can see
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	projects, err := getAll[Project](ctx, c, "/projects", nil)
	if err != nil {
		return []Project{}, c.swallow("get projects", err)
	}
	return projects, nil
}

// GetLabels returns every label the token can see
func (c *Client) GetLabels(ctx context.Context) ([]Label, error) {
	labels, err := getAll[Label](ctx, c, "/labels", nil)
	if err != nil {
		return []Label{}, c.swallow("get labels", err)
	}
	return labels, nil
}

// CreateLabel creates a label with a random color
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	payload := Label{Title: name, HexColor: randomHexColor()}

	var label Label
	if _, err := c.do(ctx, http.MethodPut, "/labels", nil, payload, &label); err != nil {
		return nil, c.swallow(fmt.Sprintf("create label '%s'", name), err)
	}
	return &label, nil
}

// AddLabelToTask attaches an existing label to a task
func (c *Client) AddLabelToTask(ctx context.Context, taskID, labelID int64) (bool, error) {
	path := fmt.Sprintf("/tasks/%d/labels", taskID)
	payload := map[string]int64{"label_id": labelID}

	if _, err := c.do(ctx, http.MethodPut, path, nil, payload, nil); err != nil {
		return false, c.swallow(fmt.Sprintf("attach label %d to task %d", labelID, taskID), err)
	}
	return true, nil
}

// taskRequest is the body of PUT /projects/{id}/tasks. The project id travels in the path.
type taskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	RepeatAfter int64  `json:"repeat_after,omitempty"`
}

// AddTask creates a task in the draft's project.
// A draft without a title is rejected before any request is made.
func (c *Client) AddTask(ctx context.Context, draft TaskDraft) (*CreatedTask, error) {
	if !draft.HasTitle() {
		c.logger.Error("Cannot create task: missing 'title'")
		return nil, nil
	}

	projectID := draft.Project()
	body := taskRequest{
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		DueDate:     draft.DueDate,
		Priority:    draft.Priority,
		RepeatAfter: draft.RepeatAfter,
	}

	var task CreatedTask
	path := fmt.Sprintf("/projects/%d/tasks", projectID)
	if _, err := c.do(ctx, http.MethodPut, path, nil, body, &task); err != nil {
		return nil, c.swallow(fmt.Sprintf("create task in project %d", projectID), err)
	}
	if task.ProjectID == 0 {
		task.ProjectID = projectID
	}
	return &task, nil
}

// SearchUsers searches users by a partial name
func (c *Client) SearchUsers(ctx context.Context, query string, page int) ([]User, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("s", query)
	params.Set("page", strconv.Itoa(page))

	var users []User
	if _, err := c.do(ctx, http.MethodGet, "/users", params, nil, &users); err != nil {
		return []User{}, c.swallow(fmt.Sprintf("search users with query '%s'", query), err)
	}
	return users, nil
}

// GetProjectUsers lists the users a project is shared with
func (c *Client) GetProjectUsers(ctx context.Context, projectID int64) ([]User, error) {
	users, err := getAll[User](ctx, c, fmt.Sprintf("/projects/%d/projectusers", projectID), nil)
	if err != nil {
		return []User{}, c.swallow(fmt.Sprintf("get users of project %d", projectID), err)
	}
	return users, nil
}

type assigneeRequest struct {
	MaxPermission *int   `json:"max_permission"`
	Created       string `json:"created"`
	UserID        int64  `json:"user_id"`
	TaskID        int64  `json:"task_id"`
}

// AssignUserToTask adds a user as assignee of a task
func (c *Client) AssignUserToTask(ctx context.Context, taskID, userID int64) (bool, error) {
	path := fmt.Sprintf("/tasks/%d/assignees", taskID)
	payload := assigneeRequest{
		Created: assigneeCreatedPlaceholder,
		UserID:  userID,
		TaskID:  taskID,
	}

	if _, err := c.do(ctx, http.MethodPut, path, nil, payload, nil); err != nil {
		return false, c.swallow(fmt.Sprintf("assign user %d to task %d", userID, taskID), err)
	}
	return true, nil
}

// swallow logs a failed call and returns only authentication errors
func (c *Client) swallow(op string, err error) error {
	c.logger.Error("Failed to %s: %v", op, err)

	var authErr *apperrors.AuthenticationError
	if errors.As(err, &authErr) {
		return authErr
	}
	return nil
}

// getAll follows Vikunja's page based pagination
func getAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	all := []T{}
	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		for k, v := range query {
			params[k] = v
		}
		params.Set("page", strconv.Itoa(page))

		var batch []T
		header, err := c.do(ctx, http.MethodGet, path, params, nil, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		totalPages, _ := strconv.Atoi(header.Get("x-pagination-total-pages"))
		if page >= totalPages || len(batch) == 0 {
			break
		}
	}
	return all, nil
}

// do sends one request and decodes the JSON response into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (http.Header, error) {
	op := method + " " + path

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &apperrors.RequestError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.RequestError{Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	// 403 means the token is valid but lacks rights on the resource
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &apperrors.AuthenticationError{Status: resp.StatusCode, Body: truncate(respBody)}
	case resp.StatusCode >= 400:
		return nil, &apperrors.RequestError{Op: op, Status: resp.StatusCode, Err: errors.New(truncate(respBody))}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, &apperrors.RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
		}
	}
	return resp.Header, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func randomHexColor() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "e8e8e8"
	}
	return hex.EncodeToString(b)
}
