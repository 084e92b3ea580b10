// Package groups layers membership rules over the store: creating a
// group adds its creator, membership adds are idempotent.
package groups

import (
	"context"
	"errors"

	"chatd/store"
)

var (
	ErrGroupExists   = errors.New("group already exists")
	ErrGroupNotFound = errors.New("group not found")
	ErrUserNotFound  = errors.New("user not found")
)

type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// Create makes the group and adds creator as its first member. The
// store's unique constraint backs the existence check, so a racing
// duplicate create reports ErrGroupExists instead of mutating.
func (r *Registry) Create(ctx context.Context, name, creator string) error {
	err := r.store.CreateGroup(ctx, name)
	if errors.Is(err, store.ErrAlreadyExists) {
		return ErrGroupExists
	}
	if err != nil {
		return err
	}
	return r.store.AddGroupMember(ctx, name, creator)
}

// AddMember requires both the group and the user to exist. Adding an
// existing member is a no-op success.
func (r *Registry) AddMember(ctx context.Context, group, username string) error {
	exists, err := r.store.GroupExists(ctx, group)
	if err != nil {
		return err
	}
	if !exists {
		return ErrGroupNotFound
	}

	exists, err = r.store.UserExists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	return r.store.AddGroupMember(ctx, group, username)
}

func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	return r.store.GroupExists(ctx, name)
}

// Members returns the member set; empty for an unknown group, which
// callers distinguish via Exists.
func (r *Registry) Members(ctx context.Context, group string) ([]string, error) {
	return r.store.GroupMembers(ctx, group)
}

func (r *Registry) IsMember(ctx context.Context, group, username string) (bool, error) {
	members, err := r.store.GroupMembers(ctx, group)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registry) GroupsFor(ctx context.Context, username string) ([]string, error) {
	return r.store.GroupsForUser(ctx, username)
}
