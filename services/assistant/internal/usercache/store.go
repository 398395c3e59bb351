package usercache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// Snapshot is the persisted cache content
type Snapshot struct {
	Users       []vikunja.User
	LastRefresh time.Time
}

// Store persists snapshots. Save replaces whatever was stored before.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// cacheFile is the on-disk JSON layout
type cacheFile struct {
	Users       []vikunja.User `json:"users"`
	LastRefresh string         `json:"last_refresh,omitempty"`
}

// FileStore keeps the cache in a JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the cache file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the cache file. A missing file is an empty snapshot; a malformed one is an error.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read user cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse user cache: %w", err)
	}

	snap := Snapshot{Users: f.Users}
	if f.LastRefresh != "" {
		if t, err := time.Parse(time.RFC3339, f.LastRefresh); err == nil {
			snap.LastRefresh = t.UTC()
		}
	}
	return snap, nil
}

// Save writes to a temp file in the same directory and renames it over the cache
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	f := cacheFile{Users: snap.Users}
	if f.Users == nil {
		f.Users = []vikunja.User{}
	}
	if !snap.LastRefresh.IsZero() {
		f.LastRefresh = snap.LastRefresh.UTC().Format(timestampLayout)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write user cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write user cache: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace user cache: %w", err)
	}
	return nil
}
