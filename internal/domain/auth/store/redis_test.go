package store

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"senweaver-server-go/internal/domain/auth/model"
)

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	store, err := NewRedis(Config{
		TTL:   time.Minute,
		Redis: &RedisConfig{Addr: mr.Addr(), Prefix: "test:admin:"},
	})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	session := model.AdminSession{SessionID: "redis-admin", Username: "admin"}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !mr.Exists("test:admin:redis-admin") {
		t.Fatalf("expected prefixed key in redis")
	}

	got, err := store.Get(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Username != "admin" {
		t.Fatalf("unexpected session: %+v", got)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 1 || list[0] != session.SessionID {
		t.Fatalf("unexpected list: %v", list)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, session.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	if _, err := NewRedis(Config{Redis: &RedisConfig{Addr: "127.0.0.1:1"}}); err == nil {
		t.Fatalf("expected ping failure")
	}
	if _, err := NewRedis(Config{}); err == nil {
		t.Fatalf("expected missing config error")
	}
}
