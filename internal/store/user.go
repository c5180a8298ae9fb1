package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnsureUser records a user seen on a channel. A non-empty name replaces
// the stored one.
func (db *DB) EnsureUser(ctx context.Context, id, name string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END`,
		id, name, time.Now().UnixMilli())
	return err
}

// SetLastSeen stores the time a user's last channel closed.
func (db *DB) SetLastSeen(ctx context.Context, id string, at int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, last_seen, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen = MAX(users.last_seen, excluded.last_seen)`,
		id, at, at)
	return err
}

// GetUser returns a user by id.
func (db *DB) GetUser(ctx context.Context, id string) (User, error) {
	u := User{ID: id}
	err := db.QueryRowContext(ctx, `SELECT name, last_seen FROM users WHERE id = ?`, id).Scan(&u.Name, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}
