package groups

import (
	"context"
	"errors"
	"os"
	"testing"

	"chatd/store"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "chatd-groups-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	st, err := store.NewSQLite(context.Background(), tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.Remove(tmpfile.Name())
	})

	ctx := context.Background()
	for _, u := range []string{"alice", "bob"} {
		if err := st.CreateUser(ctx, u, "record"); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	return New(st)
}

func TestCreateAddsCreator(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Create(ctx, "G", "alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	member, err := r.IsMember(ctx, "G", "alice")
	if err != nil || !member {
		t.Errorf("Expected creator to be a member (err=%v)", err)
	}

	if err := r.Create(ctx, "G", "bob"); !errors.Is(err, ErrGroupExists) {
		t.Errorf("Expected ErrGroupExists, got %v", err)
	}

	// The failed duplicate create must not have touched membership.
	member, err = r.IsMember(ctx, "G", "bob")
	if err != nil || member {
		t.Errorf("Duplicate create mutated membership (err=%v)", err)
	}
}

func TestAddMember(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Create(ctx, "G", "alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := r.AddMember(ctx, "missing", "bob"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound, got %v", err)
	}
	if err := r.AddMember(ctx, "G", "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	if err := r.AddMember(ctx, "G", "bob"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := r.AddMember(ctx, "G", "bob"); err != nil {
		t.Errorf("Idempotent AddMember failed: %v", err)
	}

	members, err := r.Members(ctx, "G")
	if err != nil || len(members) != 2 {
		t.Errorf("Expected 2 members, got %v (err=%v)", members, err)
	}

	groups, err := r.GroupsFor(ctx, "bob")
	if err != nil || len(groups) != 1 || groups[0] != "G" {
		t.Errorf("Expected bob in [G], got %v (err=%v)", groups, err)
	}
}
