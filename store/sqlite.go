package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"chatd/models"
)

// SQLite is the default, single-file backend.
type SQLite struct {
	conn *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path.
// _txlock=immediate makes every transaction take the write lock up
// front, which is what keeps DrainOfflineMessages atomic per receiver.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &SQLite{conn: conn}
	if err := s.init(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLite) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_name TEXT NOT NULL,
			username TEXT NOT NULL,
			PRIMARY KEY (group_name, username),
			FOREIGN KEY (group_name) REFERENCES groups(name) ON DELETE CASCADE,
			FOREIGN KEY (username) REFERENCES users(username) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS offline_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_receiver ON offline_messages(receiver, id)`,
		`CREATE INDEX IF NOT EXISTS idx_members_username ON group_members(username)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

// mapSQLiteErr translates unique-constraint violations into the
// backend-neutral sentinel.
func mapSQLiteErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrAlreadyExists
	}
	return err
}

func (s *SQLite) UserExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLite) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username, passwordHash,
	)
	return mapSQLiteErr(err)
}

func (s *SQLite) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.conn.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *SQLite) AllUsers(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		users = append(users, username)
	}

	return users, rows.Err()
}

func (s *SQLite) GroupExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM groups WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLite) CreateGroup(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx, "INSERT INTO groups (name) VALUES (?)", name)
	return mapSQLiteErr(err)
}

func (s *SQLite) AddGroupMember(ctx context.Context, group, username string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_name, username) VALUES (?, ?)",
		group, username,
	)
	return err
}

func (s *SQLite) GroupMembers(ctx context.Context, group string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT username FROM group_members WHERE group_name = ? ORDER BY username", group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		members = append(members, username)
	}

	return members, rows.Err()
}

func (s *SQLite) GroupsForUser(ctx context.Context, username string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT group_name FROM group_members WHERE username = ? ORDER BY group_name", username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		groups = append(groups, name)
	}

	return groups, rows.Err()
}

func (s *SQLite) SaveOfflineMessage(ctx context.Context, sender, receiver, body string, ts time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO offline_messages (sender, receiver, message, timestamp) VALUES (?, ?, ?, ?)",
		sender, receiver, body, ts.UTC().Format(time.RFC3339),
	)
	return err
}

// DrainOfflineMessages runs SELECT and DELETE inside one immediate
// transaction, so no insert for the same receiver can slip between
// the read and the delete.
func (s *SQLite) DrainOfflineMessages(ctx context.Context, receiver string) ([]models.OfflineMessage, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, sender, receiver, message, timestamp FROM offline_messages WHERE receiver = ? ORDER BY id",
		receiver,
	)
	if err != nil {
		return nil, err
	}

	var messages []models.OfflineMessage
	for rows.Next() {
		var m models.OfflineMessage
		var tsStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &tsStr); err != nil {
			rows.Close()
			return nil, err
		}
		m.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(messages) > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM offline_messages WHERE receiver = ?", receiver); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return messages, nil
}
