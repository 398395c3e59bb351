package usercache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/vikunja"
)

const schema = `
CREATE TABLE IF NOT EXISTS vikunja_users (
	id       BIGINT PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS vikunja_user_cache_meta (
	id           SMALLINT PRIMARY KEY,
	last_refresh TIMESTAMPTZ NOT NULL
);
`

// PostgresStore keeps the cache in two tables so several assistant instances can share it
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an open database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect establishes a connection to the PostgreSQL database
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// EnsureSchema creates the cache tables if they don't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Load reads all cached users and the last refresh time
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	err := s.db.QueryRowContext(ctx, `
		SELECT last_refresh FROM vikunja_user_cache_meta WHERE id = 1
	`).Scan(&snap.LastRefresh)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("failed to read cache metadata: %w", err)
	}
	snap.LastRefresh = snap.LastRefresh.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, username FROM vikunja_users ORDER BY id
	`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read cached users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u vikunja.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Username); err != nil {
			return Snapshot{}, err
		}
		snap.Users = append(snap.Users, u)
	}
	return snap, rows.Err()
}

// Save replaces the cached users in one transaction
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vikunja_users`); err != nil {
		return fmt.Errorf("failed to clear cached users: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vikunja_users (id, name, username) VALUES ($1, $2, $3)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range snap.Users {
		if _, err := stmt.ExecContext(ctx, u.ID, u.Name, u.Username); err != nil {
			return fmt.Errorf("failed to insert user %d: %w", u.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vikunja_user_cache_meta (id, last_refresh) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_refresh = EXCLUDED.last_refresh
	`, snap.LastRefresh.UTC()); err != nil {
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return tx.Commit()
}
