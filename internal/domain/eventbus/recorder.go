package eventbus

import (
	"context"
	"time"

	"senweaver-server-go/internal/domain/eventbus/repository"
)

// Recorder persists bus events into the audit trail.
type Recorder struct {
	repo    repository.EventRepository
	logger  Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder 创建事件记录器
func NewRecorder(repo repository.EventRepository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, timeout: 5 * time.Second, now: time.Now}
}

// Attach 为所有主题注册异步持久化订阅
func (r *Recorder) Attach(bus *Bus) error {
	for _, topic := range Topics() {
		topic := topic
		if err := bus.SubscribeAsync(topic, func(data interface{}) {
			r.record(topic, data)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) record(topic string, data interface{}) {
	event := repository.Event{
		EventType: topic,
		Data:      data,
		CreatedAt: r.now().UTC(),
	}
	switch d := data.(type) {
	case SessionEventData:
		event.SessionID, event.UserID = d.SessionID, d.UserID
	case UserEventData:
		event.UserID = d.UserID
	case KeyPoolEventData:
		event.SessionID, event.UserID = d.SessionID, d.UserID
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.repo.Store(ctx, event); err != nil && r.logger != nil {
		r.logger.Warn("[事件] 持久化 %s 失败: %v", topic, err)
	}
}
