// Package store defines the persistence contract behind the chat
// server. Two backends implement it: SQLite (default, single file) and
// PostgreSQL (pooled). Server logic never depends on which one is
// plugged in.
package store

import (
	"context"
	"errors"
	"time"

	"chatd/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when an insert hits a unique
	// constraint (duplicate username or group name).
	ErrAlreadyExists = errors.New("record already exists")
)

type Store interface {
	// Users. CreateUser stores an opaque credential record; hashing
	// policy belongs to the auth package.
	UserExists(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, username, passwordHash string) error
	PasswordHash(ctx context.Context, username string) (string, error)
	AllUsers(ctx context.Context) ([]string, error)

	// Groups. AddGroupMember is idempotent: re-adding a member is a
	// no-op success.
	GroupExists(ctx context.Context, name string) (bool, error)
	CreateGroup(ctx context.Context, name string) error
	AddGroupMember(ctx context.Context, group, username string) error
	GroupMembers(ctx context.Context, group string) ([]string, error)
	GroupsForUser(ctx context.Context, username string) ([]string, error)

	// Offline queue. DrainOfflineMessages fetches and deletes every
	// pending message for receiver as one atomic step, oldest first.
	// A send racing the drain lands entirely before or entirely after
	// it, never inside.
	SaveOfflineMessage(ctx context.Context, sender, receiver, body string, ts time.Time) error
	DrainOfflineMessages(ctx context.Context, receiver string) ([]models.OfflineMessage, error)

	Ping(ctx context.Context) error
	Close() error
}
