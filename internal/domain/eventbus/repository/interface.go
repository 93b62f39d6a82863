package repository

import (
	"context"
	"time"
)

// EventFilter narrows audit trail queries. Zero values mean "any".
type EventFilter struct {
	EventType string
	SessionID string
	UserID    string
	Since     time.Time
	Limit     int
	Offset    int
}

// EventRepository 审计事件持久化接口
type EventRepository interface {
	Store(ctx context.Context, event Event) error

	// List returns matching events newest first together with the total match count.
	List(ctx context.Context, filter EventFilter) ([]Event, int64, error)

	// CountByType 按事件类型统计 since 之后的事件数，零值表示全部
	CountByType(ctx context.Context, since time.Time) (map[string]int64, error)

	// Prune deletes events created before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Event 审计事件
type Event struct {
	ID        uint      `json:"id"`
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
