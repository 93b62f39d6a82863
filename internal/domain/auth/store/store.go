package store

import (
	"context"
	"errors"
	"time"

	"senweaver-server-go/internal/domain/auth/model"
)

// ErrNotFound is returned by Get for missing or expired sessions.
var ErrNotFound = errors.New("admin session not found")

// Store defines the behaviour required by the auth manager.
type Store interface {
	Save(ctx context.Context, session model.AdminSession) error
	Get(ctx context.Context, sessionID string) (model.AdminSession, error)
	Remove(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
