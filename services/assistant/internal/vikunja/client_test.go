package vikunja

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/api/v1/", "tk_test", 0, nil)
}

func TestNewClient(t *testing.T) {
	client := NewClient("https://tasks.example.com/api/v1/", "tk_123", 0, nil)

	assert.Equal(t, "https://tasks.example.com/api/v1", client.baseURL)
	assert.Equal(t, "tk_123", client.token)
	assert.Equal(t, defaultTimeout, client.httpClient.Timeout)
	assert.NotNil(t, client.logger)
}

func TestTestConnection(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var auth string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			assert.Equal(t, "/api/v1/projects", r.URL.Path)
			w.Write([]byte(`[]`))
		})

		assert.True(t, client.TestConnection(context.Background()))
		assert.Equal(t, "Bearer tk_test", auth)
	})

	t.Run("unauthorized", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		assert.False(t, client.TestConnection(context.Background()))
	})
}

func TestGetProjects_FollowsPagination(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("x-pagination-total-pages", "2")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`[{"id":1,"title":"Inbox"},{"id":2,"title":"Work"}]`))
		case "2":
			w.Write([]byte(`[{"id":-1,"title":"Favorites"}]`))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	projects, err := client.GetProjects(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []Project{{ID: 1, Title: "Inbox"}, {ID: 2, Title: "Work"}, {ID: -1, Title: "Favorites"}}, projects)
}

func TestGetProjects_ServerErrorIsSwallowed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"boom"}`))
	})

	projects, err := client.GetProjects(context.Background())

	assert.NoError(t, err)
	assert.Empty(t, projects)
	assert.NotNil(t, projects)
}

func TestGetLabels_AuthErrorPropagates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"missing, malformed, expired or otherwise invalid token provided"}`))
	})

	labels, err := client.GetLabels(context.Background())

	var authErr *apperrors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Empty(t, labels)
}

func TestGetLabels_ForbiddenIsSwallowed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"forbidden"}`))
	})

	labels, err := client.GetLabels(context.Background())

	assert.NoError(t, err)
	assert.Empty(t, labels)
}

func TestCreateLabel(t *testing.T) {
	var payload Label
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/labels", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"id":9,"title":"Voice","hex_color":"aabbcc"}`))
	})

	label, err := client.CreateLabel(context.Background(), "Voice")

	require.NoError(t, err)
	require.NotNil(t, label)
	assert.Equal(t, int64(9), label.ID)
	assert.Equal(t, "Voice", payload.Title)
	assert.Len(t, payload.HexColor, 6)
}

func TestAddTask(t *testing.T) {
	t.Run("posts to the project path without project_id in the body", func(t *testing.T) {
		var body map[string]interface{}
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/api/v1/projects/2/tasks", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Write([]byte(`{"id":42,"title":"Buy milk","project_id":2}`))
		})

		task, err := client.AddTask(context.Background(), TaskDraft{
			Title:     "Buy milk",
			ProjectID: 2,
			DueDate:   "2026-01-20T12:00:00Z",
			Priority:  3,
			LabelIDs:  []int64{5},
			Assignee:  "bob",
		})

		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, int64(42), task.ID)
		assert.Equal(t, "Buy milk", body["title"])
		assert.Equal(t, "2026-01-20T12:00:00Z", body["due_date"])
		assert.NotContains(t, body, "project_id")
		assert.NotContains(t, body, "label_ids")
		assert.NotContains(t, body, "assignee")
	})

	t.Run("defaults to project 1", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/projects/1/tasks", r.URL.Path)
			w.Write([]byte(`{"id":7,"title":"Call mom"}`))
		})

		task, err := client.AddTask(context.Background(), TaskDraft{Title: "Call mom"})

		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, DefaultProjectID, task.ProjectID)
	})

	t.Run("missing title makes no request", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		task, err := client.AddTask(context.Background(), TaskDraft{Title: "   "})

		assert.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("forbidden project yields nil without an auth error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/projects/4/tasks", r.URL.Path)
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"code":3001,"message":"You don't have the right to do this."}`))
		})

		task, err := client.AddTask(context.Background(), TaskDraft{Title: "Buy milk", ProjectID: 4})

		assert.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("server error yields nil", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})

		task, err := client.AddTask(context.Background(), TaskDraft{Title: "x"})

		assert.NoError(t, err)
		assert.Nil(t, task)
	})
}

func TestAddLabelToTask(t *testing.T) {
	var body map[string]int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks/42/labels", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{}`))
	})

	ok, err := client.AddLabelToTask(context.Background(), 42, 5)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), body["label_id"])
}

func TestSearchUsers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users", r.URL.Path)
		assert.Equal(t, "bo", r.URL.Query().Get("s"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`[{"id":3,"name":"Bob","username":"bob"}]`))
	})

	users, err := client.SearchUsers(context.Background(), "bo", 0)

	require.NoError(t, err)
	assert.Equal(t, []User{{ID: 3, Name: "Bob", Username: "bob"}}, users)
}

func TestGetProjectUsers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/2/projectusers", r.URL.Path)
		w.Write([]byte(`[{"id":3,"name":"Bob","username":"bob"}]`))
	})

	users, err := client.GetProjectUsers(context.Background(), 2)

	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestAssignUserToTask(t *testing.T) {
	var body map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/tasks/42/assignees", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{}`))
	})

	ok, err := client.AssignUserToTask(context.Background(), 42, 3)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(3), body["user_id"])
	assert.Equal(t, float64(42), body["task_id"])
	assert.Equal(t, assigneeCreatedPlaceholder, body["created"])
	assert.Contains(t, body, "max_permission")
	assert.Nil(t, body["max_permission"])
}

func TestAssignUserToTask_Failure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := client.AssignUserToTask(context.Background(), 42, 3)

	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFindLabel(t *testing.T) {
	labels := []Label{{ID: 1, Title: "Work"}, {ID: 2, Title: "Voice"}}

	label, ok := FindLabel(labels, "voice")
	assert.True(t, ok)
	assert.Equal(t, int64(2), label.ID)

	_, ok = FindLabel(labels, "home")
	assert.False(t, ok)
}

func TestTaskDraft_Project(t *testing.T) {
	assert.Equal(t, DefaultProjectID, TaskDraft{}.Project())
	assert.Equal(t, DefaultProjectID, TaskDraft{ProjectID: -1}.Project())
	assert.Equal(t, int64(5), TaskDraft{ProjectID: 5}.Project())
}
