package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"senweaver-server-go/internal/domain/auth/model"
)

func TestMemoryStoreBasicLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{
		TTL:    time.Second,
		Memory: &MemoryConfig{GCInterval: 10 * time.Millisecond},
	})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	session := model.AdminSession{
		SessionID: "admin-basic",
		Username:  "admin",
		IP:        "127.0.0.1",
		Metadata:  map[string]any{"role": "owner"},
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	stored, err := store.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Username != session.Username || stored.ExpiresAt == nil {
		t.Fatalf("unexpected session: %+v", stored)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 1 || list[0] != session.SessionID {
		t.Fatalf("unexpected list: %v", list)
	}

	if err := store.Remove(ctx, session.SessionID); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := store.Get(ctx, session.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestMemoryStoreExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{
		TTL:    50 * time.Millisecond,
		Memory: &MemoryConfig{GCInterval: 10 * time.Millisecond},
	})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	if err := store.Save(ctx, model.AdminSession{SessionID: "admin-expire", Username: "admin"}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	if err := store.CleanupExpired(ctx); err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	if _, err := store.Get(ctx, "admin-expire"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected get to fail after expiration, got %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats["active"].(int) != 0 {
		t.Fatalf("expected active count to be zero, got %v", stats["active"])
	}
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store := NewMemory(Config{})
	defer store.Close(context.Background())
	if err := store.Save(context.Background(), model.AdminSession{}); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}
