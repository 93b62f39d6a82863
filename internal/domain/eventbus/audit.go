package eventbus

import (
	"context"
	"time"

	"senweaver-server-go/internal/domain/eventbus/repository"
)

// Audit 审计事件查询与过期清理
type Audit struct {
	repo      repository.EventRepository
	logger    Logger
	retention time.Duration
	now       func() time.Time
}

// NewAudit creates the audit trail reader. retention <= 0 keeps events forever.
func NewAudit(repo repository.EventRepository, retention time.Duration, logger Logger) *Audit {
	return &Audit{repo: repo, logger: logger, retention: retention, now: time.Now}
}

// List 按条件查询事件，最新的在前
func (a *Audit) List(ctx context.Context, filter repository.EventFilter) ([]repository.Event, int64, error) {
	return a.repo.List(ctx, filter)
}

// Stats counts events per topic created after since.
func (a *Audit) Stats(ctx context.Context, since time.Time) (map[string]int64, error) {
	return a.repo.CountByType(ctx, since)
}

// Sweep deletes events older than the retention window.
func (a *Audit) Sweep(ctx context.Context) (int64, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	return a.repo.Prune(ctx, a.now().UTC().Add(-a.retention))
}

// RunRetention sweeps on every tick until ctx ends.
func (a *Audit) RunRetention(ctx context.Context, interval time.Duration) error {
	if a.retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Audit) sweepOnce(ctx context.Context) {
	n, err := a.Sweep(ctx)
	if a.logger == nil {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("[事件] 清理过期审计事件失败: %v", err)
		}
		return
	}
	if n > 0 {
		a.logger.Info("[事件] 已清理 %d 条过期审计事件", n)
	}
}
