package usercache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

// fakeDirectory serves canned projects and users
type fakeDirectory struct {
	projects     []vikunja.Project
	projectUsers map[int64][]vikunja.User
	search       map[string][]vikunja.User
	authErr      error
	searchErr    map[string]error

	projectCalls []int64
}

func (f *fakeDirectory) GetProjects(ctx context.Context) ([]vikunja.Project, error) {
	if f.authErr != nil {
		return []vikunja.Project{}, f.authErr
	}
	return f.projects, nil
}

func (f *fakeDirectory) GetProjectUsers(ctx context.Context, projectID int64) ([]vikunja.User, error) {
	f.projectCalls = append(f.projectCalls, projectID)
	return f.projectUsers[projectID], nil
}

func (f *fakeDirectory) SearchUsers(ctx context.Context, query string, page int) ([]vikunja.User, error) {
	if err := f.searchErr[query]; err != nil {
		return []vikunja.User{}, err
	}
	return f.search[query], nil
}

// fakeScheduler records the registration and lets the test fire it
type fakeScheduler struct {
	interval time.Duration
	fn       func(ctx context.Context)
	stopped  bool
}

func (s *fakeScheduler) Every(interval time.Duration, fn func(ctx context.Context)) func() {
	s.interval = interval
	s.fn = fn
	return func() { s.stopped = true }
}

var (
	alice = vikunja.User{ID: 7, Name: "Alice", Username: "alice"}
	bob   = vikunja.User{ID: 8, Name: "Bob Builder", Username: "bobb"}
)

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		projects: []vikunja.Project{{ID: -1, Title: "Favorites"}, {ID: 1, Title: "Inbox"}, {ID: 2, Title: "Work"}},
		projectUsers: map[int64][]vikunja.User{
			1: {alice},
			2: {alice, bob},
		},
	}
}

func newManager(t *testing.T, dir Directory, enabled bool) (*Manager, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "vikunja_users.json"))
	return NewManager(dir, store, Options{Enabled: enabled}, nil), store
}

func TestRefresh_EnumeratesProjectsAndDeduplicates(t *testing.T) {
	dir := newDirectory()
	m, store := newManager(t, dir, true)

	require.NoError(t, m.Refresh(context.Background(), false))

	assert.Equal(t, []int64{1, 2}, dir.projectCalls, "favorites pseudo-project is skipped")
	assert.Equal(t, []vikunja.User{alice, bob}, m.Users())
	assert.False(t, m.LastRefresh().IsZero())

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []vikunja.User{alice, bob}, persisted.Users)
}

func TestRefresh_DisabledIsNoop(t *testing.T) {
	dir := newDirectory()
	m, _ := newManager(t, dir, false)

	require.NoError(t, m.Refresh(context.Background(), true))

	assert.Empty(t, dir.projectCalls)
	assert.Empty(t, m.Users())
}

func TestRefresh_RespectsAge(t *testing.T) {
	dir := newDirectory()
	m, _ := newManager(t, dir, true)
	current := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	require.NoError(t, m.Refresh(context.Background(), false))
	require.Len(t, dir.projectCalls, 2)

	current = current.Add(time.Hour)
	require.NoError(t, m.Refresh(context.Background(), false))
	assert.Len(t, dir.projectCalls, 2, "fresh cache is not rebuilt")

	require.NoError(t, m.Refresh(context.Background(), true))
	assert.Len(t, dir.projectCalls, 4, "force rebuilds")

	current = current.Add(25 * time.Hour)
	require.NoError(t, m.Refresh(context.Background(), false))
	assert.Len(t, dir.projectCalls, 6, "stale cache is rebuilt")
}

func TestRefresh_AuthErrorPropagates(t *testing.T) {
	dir := newDirectory()
	dir.authErr = &apperrors.AuthenticationError{Status: 401}
	m, _ := newManager(t, dir, true)

	err := m.Refresh(context.Background(), true)

	var authErr *apperrors.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestRefresh_NoProjectsKeepsCache(t *testing.T) {
	dir := newDirectory()
	m, _ := newManager(t, dir, true)
	require.NoError(t, m.Refresh(context.Background(), true))

	dir.projects = nil
	require.NoError(t, m.Refresh(context.Background(), true))

	assert.Equal(t, []vikunja.User{alice, bob}, m.Users())
}

func TestBuildInitial(t *testing.T) {
	dir := &fakeDirectory{
		search: map[string][]vikunja.User{
			"a": {alice},
			"o": {bob, alice},
		},
		searchErr: map[string]error{"e": &apperrors.RequestError{Op: "GET /users", Status: 500}},
	}
	m, store := newManager(t, dir, true)

	require.NoError(t, m.BuildInitial(context.Background()))

	assert.Equal(t, []vikunja.User{alice, bob}, m.Users())
	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted.Users, 2)
}

func TestBuildInitial_AuthErrorPropagates(t *testing.T) {
	dir := &fakeDirectory{
		searchErr: map[string]error{"a": &apperrors.AuthenticationError{Status: 403}},
	}
	m, _ := newManager(t, dir, true)

	err := m.BuildInitial(context.Background())

	var authErr *apperrors.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestLoad_MissingAndMalformed(t *testing.T) {
	m, store := newManager(t, newDirectory(), true)

	m.Load(context.Background())
	assert.Empty(t, m.Users())

	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))
	m.Load(context.Background())
	assert.Empty(t, m.Users())
}

func TestLoad_ReadsPersistedFile(t *testing.T) {
	m, store := newManager(t, newDirectory(), true)
	content := `{"users": [{"id": 7, "name": "Alice", "username": "alice"}], "last_refresh": "2026-01-19T12:00:00Z"}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(content), 0o644))

	m.Load(context.Background())

	assert.Equal(t, []vikunja.User{alice}, m.Users())
	assert.Equal(t, time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC), m.LastRefresh())
}

func TestFindUserID(t *testing.T) {
	m, _ := newManager(t, newDirectory(), true)
	m.snap = Snapshot{Users: []vikunja.User{
		{ID: 1, Name: "alice", Username: "al"},
		alice,
		bob,
	}}

	id, ok := m.FindUserID("ALICE")
	assert.True(t, ok)
	assert.Equal(t, int64(7), id, "username match wins over an earlier name match")

	id, ok = m.FindUserID(" bob builder ")
	assert.True(t, ok)
	assert.Equal(t, int64(8), id)

	_, ok = m.FindUserID("carol")
	assert.False(t, ok)

	_, ok = m.FindUserID("")
	assert.False(t, ok)
}

func TestSchedulePeriodicRefresh(t *testing.T) {
	dir := newDirectory()
	m, _ := newManager(t, dir, true)
	sched := &fakeScheduler{}

	stop := m.SchedulePeriodicRefresh(sched)

	assert.Equal(t, DefaultRefreshInterval, sched.interval)
	require.NotNil(t, sched.fn)
	sched.fn(context.Background())
	assert.Len(t, m.Users(), 2)

	stop()
	assert.True(t, sched.stopped)
}

func TestFileStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "cache", "users.json"))
	snap := Snapshot{Users: []vikunja.User{alice}, LastRefresh: time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)}

	require.NoError(t, store.Save(context.Background(), snap))

	entries, err := os.ReadDir(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_refresh": "2026-01-19T12:00:00Z"`)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}
