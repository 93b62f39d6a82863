package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/access/repository"
	"senweaver-server-go/internal/platform/errors"
)

// accessRepository 用户与额度仓库实现
type accessRepository struct {
	db *gorm.DB
	// inTx 为 true 时读取额度行加行锁（postgres）
	inTx bool
}

// NewAccessRepository 创建用户额度仓库实例
func NewAccessRepository(db *gorm.DB) repository.Repository {
	return &accessRepository{db: db}
}

func (r *accessRepository) WithTx(ctx context.Context, fn func(repo repository.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&accessRepository{db: tx, inTx: true})
	})
}

func (r *accessRepository) FindUser(ctx context.Context, userID string) (*model.User, error) {
	var record UserRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "access.find_user", "failed to find user", err)
	}
	user := userFromRecord(&record)
	return &user, nil
}

// SaveUser 按 user_id 新建或更新
func (r *accessRepository) SaveUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	record := &UserRecord{
		UserID:     user.UserID,
		Status:     string(user.Status),
		LastSeenAt: user.LastSeenAt,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  now,
	}
	if record.Status == "" {
		record.Status = string(model.UserActive)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen_at", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "access.save_user", "failed to save user", err)
	}
	saved, err := r.FindUser(ctx, user.UserID)
	if err != nil {
		return err
	}
	if saved != nil {
		*user = *saved
	}
	return nil
}

func (r *accessRepository) ListUsers(ctx context.Context, status model.UserStatus, limit, offset int) ([]model.User, int64, error) {
	query := r.db.WithContext(ctx).Model(&UserRecord{})
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(errors.KindStorage, "access.count_users", "failed to count users", err)
	}
	var records []UserRecord
	if limit <= 0 {
		limit = 50
	}
	if err := query.Order("id ASC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, errors.Wrap(errors.KindStorage, "access.list_users", "failed to list users", err)
	}
	users := make([]model.User, len(records))
	for i := range records {
		users[i] = userFromRecord(&records[i])
	}
	return users, total, nil
}

func (r *accessRepository) FindAccess(ctx context.Context, userID string) (*model.Access, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if r.inTx && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record ModelAccessRecord
	if err := query.First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "access.find_access", "failed to find model access", err)
	}
	return &model.Access{
		UserID:         record.UserID,
		Enabled:        record.Enabled,
		Used:           record.UsedCount,
		UsedTotal:      record.UsedTotal,
		Limit:          record.UsageLimit,
		ResetDays:      record.ResetPeriodDays,
		LastResetTime:  record.LastResetTime,
		DisabledReason: record.DisabledReason,
	}, nil
}

// SaveAccess 按 user_id 新建或整行覆盖
func (r *accessRepository) SaveAccess(ctx context.Context, access *model.Access) error {
	now := time.Now().UTC()
	record := &ModelAccessRecord{
		UserID:          access.UserID,
		Enabled:         access.Enabled,
		UsedCount:       access.Used,
		UsedTotal:       access.UsedTotal,
		UsageLimit:      access.Limit,
		ResetPeriodDays: access.ResetDays,
		LastResetTime:   access.LastResetTime,
		DisabledReason:  access.DisabledReason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "used_count", "used_total", "usage_limit",
			"reset_period_days", "last_reset_time", "disabled_reason", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "access.save_access", "failed to save model access", err)
	}
	return nil
}

func (r *accessRepository) AppendUsage(ctx context.Context, entry model.UsageEntry) error {
	detail, err := datatypes.NewJSONType(entry).MarshalJSON()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "access.append_usage", "failed to encode usage detail", err)
	}
	record := &UsageLogRecord{
		UserID:    entry.UserID,
		ModelName: entry.ModelName,
		Inc:       entry.Inc,
		ClientID:  entry.ClientID,
		Detail:    datatypes.JSON(detail),
		CreatedAt: entry.CreatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "access.append_usage", "failed to append usage log", err)
	}
	return nil
}

func userFromRecord(record *UserRecord) model.User {
	return model.User{
		ID:         record.ID,
		UserID:     record.UserID,
		Status:     model.UserStatus(record.Status),
		LastSeenAt: record.LastSeenAt,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}
