package repository

import (
	"context"

	"senweaver-server-go/internal/domain/access/model"
)

// Repository 用户与额度持久化接口，查询不到时返回 (nil, nil)
type Repository interface {
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	FindUser(ctx context.Context, userID string) (*model.User, error)
	SaveUser(ctx context.Context, user *model.User) error
	ListUsers(ctx context.Context, status model.UserStatus, limit, offset int) ([]model.User, int64, error)

	FindAccess(ctx context.Context, userID string) (*model.Access, error)
	SaveAccess(ctx context.Context, access *model.Access) error

	AppendUsage(ctx context.Context, entry model.UsageEntry) error
}
