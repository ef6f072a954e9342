package db

import (
	"context"
	"database/sql"
	"strings"
)

// GetProviderKeys returns the enabled provider API keys, oldest first.
func GetProviderKeys(ctx context.Context, dbx *sql.DB) ([]string, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT api_key FROM provider_keys WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AddProviderKey inserts a key if it is not already present.
func AddProviderKey(ctx context.Context, dbx *sql.DB, key string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO provider_keys(api_key) VALUES($1) ON CONFLICT(api_key) DO NOTHING`, key)
	return err
}

// IgnoredUsers returns the set of usernames the bot should not listen to.
func IgnoredUsers(ctx context.Context, dbx *sql.DB) (map[string]bool, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT username FROM ignored_users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users[strings.ToLower(u)] = true
	}
	return users, rows.Err()
}

// IgnoreUser adds a username to the ignore list.
func IgnoreUser(ctx context.Context, dbx *sql.DB, username string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO ignored_users(username) VALUES($1) ON CONFLICT(username) DO NOTHING`,
		strings.ToLower(username))
	return err
}

// UnignoreUser removes a username from the ignore list.
func UnignoreUser(ctx context.Context, dbx *sql.DB, username string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM ignored_users WHERE username=$1`, strings.ToLower(username))
	return err
}

// Announcement is one rotating chat message.
type Announcement struct {
	ID       int
	Message  string
	Enabled  bool
	LiveOnly bool
}

// ListAnnouncements returns enabled announcements, oldest first.
func ListAnnouncements(ctx context.Context, dbx *sql.DB) ([]Announcement, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, message, enabled, live_only FROM announcements WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Announcement
	for rows.Next() {
		var a Announcement
		if err := rows.Scan(&a.ID, &a.Message, &a.Enabled, &a.LiveOnly); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAnnouncement inserts a new enabled announcement and returns its id.
func AddAnnouncement(ctx context.Context, dbx *sql.DB, message string, liveOnly bool) (int, error) {
	var id int
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO announcements(message, live_only) VALUES($1,$2) RETURNING id`,
		message, liveOnly).Scan(&id)
	return id, err
}

// SetAnnouncementEnabled flips the enabled flag for an announcement.
func SetAnnouncementEnabled(ctx context.Context, dbx *sql.DB, id int, enabled bool) error {
	_, err := dbx.ExecContext(ctx, `UPDATE announcements SET enabled=$2 WHERE id=$1`, id, enabled)
	return err
}

// UserStore adapts the ignored_users helpers to the router's store interface.
type UserStore struct {
	DB *sql.DB
}

func (s *UserStore) IgnoredUsers(ctx context.Context) (map[string]bool, error) {
	return IgnoredUsers(ctx, s.DB)
}

func (s *UserStore) IgnoreUser(ctx context.Context, username string) error {
	return IgnoreUser(ctx, s.DB, username)
}

func (s *UserStore) UnignoreUser(ctx context.Context, username string) error {
	return UnignoreUser(ctx, s.DB, username)
}
