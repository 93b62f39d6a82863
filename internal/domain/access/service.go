// Package access tracks end users, their ban status and model call quota.
package access

import (
	"context"
	"strings"
	"time"

	"senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/access/repository"
	"senweaver-server-go/internal/platform/errors"
	"senweaver-server-go/internal/platform/logging"
)

const logTag = "用量"

// Defaults 新用户的额度
type Defaults struct {
	UsageLimit int64
	ResetDays  int
}

var (
	ErrEmptyIdentity = errors.New(errors.KindDomain, "access", "user_id is required")
	ErrUserNotFound  = errors.New(errors.KindDomain, "access", "user not found")
	ErrInvalidUsage  = errors.New(errors.KindDomain, "access", "inc must be positive")
)

// AccessUpdate is an administrative quota change.
type AccessUpdate struct {
	Enabled   bool   `json:"enabled"`
	Limit     *int64 `json:"limit,omitempty"`
	ResetDays *int   `json:"reset_days,omitempty"`
	ResetUsed bool   `json:"reset_used"`
	Reason    string `json:"reason,omitempty"`
}

// Service implements user lookup and usage accounting.
type Service struct {
	repo     repository.Repository
	defaults Defaults
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates the access service.
func NewService(repo repository.Repository, defaults Defaults, logger *logging.Logger) *Service {
	if defaults.UsageLimit <= 0 {
		defaults.UsageLimit = 10000
	}
	if defaults.ResetDays <= 0 {
		defaults.ResetDays = 30
	}
	return &Service{repo: repo, defaults: defaults, logger: logger, now: time.Now}
}

// SetClock overrides time.Now for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// EnsureUser returns the user, creating it on first sight and refreshing
// last_seen_at. An INACTIVE user becomes ACTIVE again.
func (s *Service) EnsureUser(ctx context.Context, userID string) (*model.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrEmptyIdentity
	}
	var user *model.User
	err := s.repo.WithTx(ctx, func(repo repository.Repository) error {
		var err error
		user, err = s.ensureUser(ctx, repo, userID)
		return err
	})
	return user, err
}

// Lookup returns the user without creating it; nil when unknown.
func (s *Service) Lookup(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, nil
	}
	return s.repo.FindUser(ctx, userID)
}

// Touch refreshes last_seen_at of an existing user. Unknown users are ignored.
func (s *Service) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil || user == nil {
		return err
	}
	now := s.now().UTC()
	user.LastSeenAt = &now
	return s.repo.SaveUser(ctx, user)
}

// Standing returns the user and current quota, applying any due period reset.
// Unknown users are reported with a nil User.
func (s *Service) Standing(ctx context.Context, userID string) (*model.Standing, error) {
	if userID == "" {
		return &model.Standing{}, nil
	}
	standing := &model.Standing{}
	err := s.repo.WithTx(ctx, func(repo repository.Repository) error {
		user, err := repo.FindUser(ctx, userID)
		if err != nil || user == nil {
			return err
		}
		standing.User = user
		standing.Access, err = s.loadAccess(ctx, repo, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return standing, nil
}

// AccessStatus returns the user's quota, creating both user and quota rows
// when missing.
func (s *Service) AccessStatus(ctx context.Context, userID string) (*model.Access, error) {
	if userID == "" {
		return nil, ErrEmptyIdentity
	}
	var access *model.Access
	err := s.repo.WithTx(ctx, func(repo repository.Repository) error {
		if _, err := s.ensureUser(ctx, repo, userID); err != nil {
			return err
		}
		var err error
		access, err = s.loadAccess(ctx, repo, userID)
		return err
	})
	return access, err
}

// RecordUsage logs a usage report and counts it against the quota. The
// result's JustExhausted is true only for the report that crossed the limit.
func (s *Service) RecordUsage(ctx context.Context, entry model.UsageEntry) (*model.UsageResult, error) {
	if entry.UserID == "" {
		return nil, ErrEmptyIdentity
	}
	if entry.Inc <= 0 {
		return nil, ErrInvalidUsage
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	result := &model.UsageResult{}
	err := s.repo.WithTx(ctx, func(repo repository.Repository) error {
		if _, err := s.ensureUser(ctx, repo, entry.UserID); err != nil {
			return err
		}
		if err := repo.AppendUsage(ctx, entry); err != nil {
			return err
		}
		access, err := s.loadAccess(ctx, repo, entry.UserID)
		if err != nil {
			return err
		}
		if access.Enabled {
			access.Used += int64(entry.Inc)
			access.UsedTotal += int64(entry.Inc)
			if access.Used >= access.Limit {
				access.Enabled = false
				access.DisabledReason = model.ReasonUsageLimit
				result.JustExhausted = true
			}
			if err := repo.SaveAccess(ctx, access); err != nil {
				return err
			}
		}
		result.Access = *access
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.JustExhausted {
		s.logger.WarnTag(logTag, "用户 %s 模型调用次数已用尽 (%d/%d)", entry.UserID, result.Access.Used, result.Access.Limit)
	}
	return result, nil
}

// SetAccess applies an administrative change to the user's quota.
func (s *Service) SetAccess(ctx context.Context, userID string, update AccessUpdate) (*model.Access, error) {
	if userID == "" {
		return nil, ErrEmptyIdentity
	}
	var access *model.Access
	err := s.repo.WithTx(ctx, func(repo repository.Repository) error {
		if _, err := s.ensureUser(ctx, repo, userID); err != nil {
			return err
		}
		var err error
		access, err = s.loadAccess(ctx, repo, userID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		access.Enabled = update.Enabled
		if update.Limit != nil {
			access.Limit = *update.Limit
		}
		if update.ResetDays != nil && *update.ResetDays > 0 {
			access.ResetDays = *update.ResetDays
		}
		if update.ResetUsed {
			access.Used = 0
			access.LastResetTime = &now
		}
		if access.Enabled {
			access.DisabledReason = ""
		} else if update.Reason != "" {
			access.DisabledReason = update.Reason
		} else if access.DisabledReason == "" {
			access.DisabledReason = model.ReasonManual
		}
		return repo.SaveAccess(ctx, access)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoTag(logTag, "更新用户 %s 模型权限: enabled=%t used=%d limit=%d", userID, access.Enabled, access.Used, access.Limit)
	return access, nil
}

// Ban marks the user BANNED.
func (s *Service) Ban(ctx context.Context, userID string) (*model.User, error) {
	return s.setStatus(ctx, userID, model.UserBanned)
}

// Unban restores a banned user to ACTIVE.
func (s *Service) Unban(ctx context.Context, userID string) (*model.User, error) {
	return s.setStatus(ctx, userID, model.UserActive)
}

func (s *Service) ListUsers(ctx context.Context, status model.UserStatus, limit, offset int) ([]model.User, int64, error) {
	return s.repo.ListUsers(ctx, status, limit, offset)
}

func (s *Service) setStatus(ctx context.Context, userID string, status model.UserStatus) (*model.User, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	user.Status = status
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.InfoTag(logTag, "用户 %s 状态变更为 %s", userID, status)
	return user, nil
}

func (s *Service) ensureUser(ctx context.Context, repo repository.Repository, userID string) (*model.User, error) {
	user, err := repo.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if user == nil {
		user = &model.User{UserID: userID, Status: model.UserActive}
		s.logger.InfoTag(logTag, "创建新用户: %s", userID)
	} else if user.Status == model.UserInactive {
		user.Status = model.UserActive
	}
	user.LastSeenAt = &now
	if err := repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// loadAccess returns the quota row, creating it with defaults, and applies a
// due period reset. A reset re-enables access only when the quota itself had
// disabled it.
func (s *Service) loadAccess(ctx context.Context, repo repository.Repository, userID string) (*model.Access, error) {
	now := s.now().UTC()
	access, err := repo.FindAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if access == nil {
		access = &model.Access{
			UserID:        userID,
			Enabled:       true,
			Limit:         s.defaults.UsageLimit,
			ResetDays:     s.defaults.ResetDays,
			LastResetTime: &now,
		}
		return access, repo.SaveAccess(ctx, access)
	}
	if access.DueForReset(now) {
		access.Used = 0
		access.LastResetTime = &now
		if !access.Enabled && access.DisabledReason == model.ReasonUsageLimit {
			access.Enabled = true
			access.DisabledReason = ""
		}
		if err := repo.SaveAccess(ctx, access); err != nil {
			return nil, err
		}
	}
	return access, nil
}
