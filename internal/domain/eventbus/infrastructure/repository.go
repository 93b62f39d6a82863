package infrastructure

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"senweaver-server-go/internal/domain/eventbus/repository"
	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/storage"
)

const maxListLimit = 500

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 基于 gorm 的审计事件存储
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	payload, err := sonic.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "event.store", "failed to encode event payload", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	row := &storage.DomainEvent{
		EventType: event.EventType,
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Data:      payload,
		CreatedAt: event.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.store", "failed to store event", err)
	}
	return nil
}

func (r *eventRepository) List(ctx context.Context, filter repository.EventFilter) ([]repository.Event, int64, error) {
	query := r.db.WithContext(ctx).Model(&storage.DomainEvent{})
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(errors.KindStorage, "event.list", "failed to count events", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var rows []storage.DomainEvent
	if err := query.Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(max(filter.Offset, 0)).
		Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(errors.KindStorage, "event.list", "failed to list events", err)
	}

	events, err := decodeRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *eventRepository) CountByType(ctx context.Context, since time.Time) (map[string]int64, error) {
	var counts []struct {
		EventType string
		Count     int64
	}
	query := r.db.WithContext(ctx).Model(&storage.DomainEvent{})
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	if err := query.Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&counts).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.count", "failed to count events by type", err)
	}

	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.EventType] = c.Count
	}
	return out, nil
}

func (r *eventRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&storage.DomainEvent{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "event.prune", "failed to prune events", res.Error)
	}
	return res.RowsAffected, nil
}

func decodeRows(rows []storage.DomainEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(rows))
	for i, row := range rows {
		var payload any
		if len(row.Data) > 0 {
			if err := sonic.Unmarshal(row.Data, &payload); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.decode", "failed to decode event payload", err)
			}
		}
		events[i] = repository.Event{
			ID:        row.ID,
			EventType: row.EventType,
			SessionID: row.SessionID,
			UserID:    row.UserID,
			Data:      payload,
			CreatedAt: row.CreatedAt,
		}
	}
	return events, nil
}
