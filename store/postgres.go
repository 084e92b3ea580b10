package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatd/models"
)

const pgUniqueViolation = "23505"

// Postgres is the pooled backend for deployments that already run a
// database server.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Postgres{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_name TEXT NOT NULL REFERENCES groups(name) ON DELETE CASCADE,
			username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
			PRIMARY KEY (group_name, username)
		)`,
		`CREATE TABLE IF NOT EXISTS offline_messages (
			id BIGSERIAL PRIMARY KEY,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_receiver ON offline_messages(receiver, id)`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

func (s *Postgres) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	return exists, err
}

func (s *Postgres) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2)",
		username, passwordHash,
	)
	return mapPgErr(err)
}

func (s *Postgres) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		"SELECT password_hash FROM users WHERE username = $1", username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Postgres) AllUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT username FROM users ORDER BY username")
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

func (s *Postgres) GroupExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM groups WHERE name = $1)", name).Scan(&exists)
	return exists, err
}

func (s *Postgres) CreateGroup(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, "INSERT INTO groups (name) VALUES ($1)", name)
	return mapPgErr(err)
}

func (s *Postgres) AddGroupMember(ctx context.Context, group, username string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO group_members (group_name, username) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		group, username,
	)
	return err
}

func (s *Postgres) GroupMembers(ctx context.Context, group string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT username FROM group_members WHERE group_name = $1 ORDER BY username", group)
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

func (s *Postgres) GroupsForUser(ctx context.Context, username string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT group_name FROM group_members WHERE username = $1 ORDER BY group_name", username)
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

func (s *Postgres) SaveOfflineMessage(ctx context.Context, sender, receiver, body string, ts time.Time) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO offline_messages (sender, receiver, message, timestamp) VALUES ($1, $2, $3, $4)",
		sender, receiver, body, ts.UTC(),
	)
	return err
}

// DrainOfflineMessages deletes and returns the queue in one statement;
// the CTE makes the fetch-and-delete a single atomic step.
func (s *Postgres) DrainOfflineMessages(ctx context.Context, receiver string) ([]models.OfflineMessage, error) {
	rows, err := s.pool.Query(ctx, `
		WITH drained AS (
			DELETE FROM offline_messages WHERE receiver = $1
			RETURNING id, sender, receiver, message, timestamp
		)
		SELECT id, sender, receiver, message, timestamp FROM drained ORDER BY id
	`, receiver)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OfflineMessage
	for rows.Next() {
		var m models.OfflineMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
