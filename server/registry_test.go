package server

import (
	"sync"
	"sync/atomic"
	"testing"

	"chatd/models"
)

func TestTryBindSingleWinner(t *testing.T) {
	r := newRegistry()
	sess := &session{}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.tryBind("alice", sess); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly 1 successful bind, got %d", wins)
	}
}

func TestUnbindIdempotent(t *testing.T) {
	r := newRegistry()
	sess := &session{}

	if err := r.tryBind("alice", sess); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	r.unbind("alice")
	r.unbind("alice") // second release is a no-op

	if _, ok := r.lookup("alice"); ok {
		t.Error("Expected alice unbound")
	}

	// The name is reusable after release.
	if err := r.tryBind("alice", sess); err != nil {
		t.Errorf("Rebind after unbind failed: %v", err)
	}
}

func TestUnbindClearsContext(t *testing.T) {
	r := newRegistry()
	sess := &session{}

	if err := r.tryBind("alice", sess); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	r.setContext("alice", models.ChatContext{Kind: models.ContextUser, Target: "bob"})

	r.unbind("alice")

	// A later session for the same name must not inherit the old
	// context.
	if err := r.tryBind("alice", sess); err != nil {
		t.Fatalf("Rebind failed: %v", err)
	}
	if _, ok := r.context("alice"); ok {
		t.Error("Context survived unbind")
	}
}

func TestContextOverwrite(t *testing.T) {
	r := newRegistry()
	sess := &session{}

	if err := r.tryBind("alice", sess); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	r.setContext("alice", models.ChatContext{Kind: models.ContextUser, Target: "bob"})
	r.setContext("alice", models.ChatContext{Kind: models.ContextGroup, Target: "G"})

	ctx, ok := r.context("alice")
	if !ok || ctx.Kind != models.ContextGroup || ctx.Target != "G" {
		t.Errorf("Expected group context G, got %v (ok=%v)", ctx, ok)
	}

	r.clearContext("alice")
	if _, ok := r.context("alice"); ok {
		t.Error("Expected context cleared")
	}
}
