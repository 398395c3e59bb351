package usercache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

// DefaultRefreshInterval is how old the cache may get before a refresh rebuilds it
const DefaultRefreshInterval = 24 * time.Hour

// searchLetters seed the initial build; every username contains at least one of them
var searchLetters = []string{"a", "e", "i", "o", "u", "y"}

// Directory is the part of the Vikunja client the cache reads users from
type Directory interface {
	GetProjects(ctx context.Context) ([]vikunja.Project, error)
	GetProjectUsers(ctx context.Context, projectID int64) ([]vikunja.User, error)
	SearchUsers(ctx context.Context, query string, page int) ([]vikunja.User, error)
}

// Scheduler runs fn every interval until the returned stop func is called
type Scheduler interface {
	Every(interval time.Duration, fn func(ctx context.Context)) (stop func())
}

// Options configures a Manager
type Options struct {
	// Enabled mirrors the user assignment setting; a disabled manager never refreshes
	Enabled  bool
	Interval time.Duration
}

// Manager owns the user cache. Reads are served from memory; refreshes replace
// the stored snapshot wholesale, so concurrent writers resolve as last-writer-wins.
type Manager struct {
	dir      Directory
	store    Store
	logger   *logging.Logger
	enabled  bool
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewManager creates a new user cache manager
func NewManager(dir Directory, store Store, opts Options, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultRefreshInterval
	}
	return &Manager{
		dir:      dir,
		store:    store,
		logger:   logger,
		enabled:  opts.Enabled,
		interval: opts.Interval,
		now:      time.Now,
	}
}

// Load reads the persisted cache. A missing or unreadable cache leaves it empty.
func (m *Manager) Load(ctx context.Context) {
	snap, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("Failed loading user cache: %v", err)
		snap = Snapshot{}
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	m.logger.Debug("Loaded %d cached users", len(snap.Users))
}

// Users returns a copy of the cached users
func (m *Manager) Users() []vikunja.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]vikunja.User, len(m.snap.Users))
	copy(users, m.snap.Users)
	return users
}

// LastRefresh returns when the cache was last rebuilt, zero if never
func (m *Manager) LastRefresh() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.LastRefresh
}

// Refresh rebuilds the cache from the users of every accessible project.
// It does nothing when assignment is disabled, or when the cache is younger
// than the refresh interval unless force is set. Authentication errors are returned.
func (m *Manager) Refresh(ctx context.Context, force bool) error {
	if !m.enabled {
		return nil
	}
	if !force && !m.stale() {
		return nil
	}

	projects, err := m.dir.GetProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		m.logger.Warn("No projects returned, keeping the existing user cache")
		return nil
	}

	seen := make(map[int64]bool)
	var users []vikunja.User
	for _, p := range projects {
		if p.ID <= 0 {
			continue
		}
		projectUsers, err := m.dir.GetProjectUsers(ctx, p.ID)
		if err != nil {
			return err
		}
		users = appendUnique(users, seen, projectUsers)
	}

	if err := m.replace(ctx, users); err != nil {
		return err
	}
	m.logger.Info("Vikunja user cache refreshed: %d users", len(users))
	return nil
}

// BuildInitial fills the cache synchronously during setup using user search.
// Search failures other than authentication are logged and skipped.
func (m *Manager) BuildInitial(ctx context.Context) error {
	seen := make(map[int64]bool)
	var users []vikunja.User
	for _, letter := range searchLetters {
		found, err := m.dir.SearchUsers(ctx, letter, 1)
		if err != nil {
			var authErr *apperrors.AuthenticationError
			if errors.As(err, &authErr) {
				return err
			}
			m.logger.Warn("User search for '%s' failed: %v", letter, err)
			continue
		}
		users = appendUnique(users, seen, found)
	}

	if err := m.replace(ctx, users); err != nil {
		m.logger.Error("Initial user cache build could not be saved: %v", err)
		return nil
	}
	m.logger.Info("Initial user cache built: %d users", len(users))
	return nil
}

// SchedulePeriodicRefresh registers a recurring refresh with the host scheduler
func (m *Manager) SchedulePeriodicRefresh(s Scheduler) (stop func()) {
	return s.Every(m.interval, func(ctx context.Context) {
		if err := m.Refresh(ctx, false); err != nil {
			m.logger.Error("Scheduled user cache refresh failed: %v", err)
		}
	})
}

// FindUserID matches lookup against usernames first, then display names, ignoring case
func (m *Manager) FindUserID(lookup string) (int64, bool) {
	if u, ok := m.FindUser(lookup); ok {
		return u.ID, true
	}
	return 0, false
}

// FindUser is FindUserID returning the whole record
func (m *Manager) FindUser(lookup string) (vikunja.User, bool) {
	needle := strings.ToLower(strings.TrimSpace(lookup))
	if needle == "" {
		return vikunja.User{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.snap.Users {
		if strings.ToLower(strings.TrimSpace(u.Username)) == needle {
			return u, true
		}
	}
	for _, u := range m.snap.Users {
		if strings.ToLower(strings.TrimSpace(u.Name)) == needle {
			return u, true
		}
	}
	return vikunja.User{}, false
}

func (m *Manager) stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snap.LastRefresh.IsZero() {
		return true
	}
	return m.now().Sub(m.snap.LastRefresh) >= m.interval
}

// replace swaps in a new snapshot in memory, then persists it
func (m *Manager) replace(ctx context.Context, users []vikunja.User) error {
	snap := Snapshot{Users: users, LastRefresh: m.now().UTC()}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	if err := m.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save user cache: %w", err)
	}
	return nil
}

func appendUnique(users []vikunja.User, seen map[int64]bool, batch []vikunja.User) []vikunja.User {
	for _, u := range batch {
		if u.ID == 0 || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		users = append(users, u)
	}
	return users
}
