package model

import "time"

// UserStatus 用户账号状态
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
	UserBanned   UserStatus = "BANNED"
	UserDeleted  UserStatus = "DELETED"
)

// Disable reasons surfaced to the client in access updates.
const (
	ReasonUsageLimit = "usage_limit_reached"
	ReasonBanned     = "您的账号已被禁用"
	ReasonManual     = "manual_disable"
)

// User is the end-user identity a session claims.
type User struct {
	ID         uint       `json:"id"`
	UserID     string     `json:"user_id"`
	Status     UserStatus `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Banned reports whether the account is blocked from credentials.
func (u *User) Banned() bool {
	return u != nil && u.Status == UserBanned
}

// Access is the per-user model quota.
type Access struct {
	UserID         string     `json:"user_id"`
	Enabled        bool       `json:"enabled"`
	Used           int64      `json:"used"`
	UsedTotal      int64      `json:"used_total"`
	Limit          int64      `json:"limit"`
	ResetDays      int        `json:"reset_days"`
	LastResetTime  *time.Time `json:"last_reset_time"`
	DisabledReason string     `json:"reason,omitempty"`
}

// DueForReset reports whether the usage period has elapsed at now.
func (a *Access) DueForReset(now time.Time) bool {
	if a.LastResetTime == nil {
		return true
	}
	if a.ResetDays <= 0 {
		return false
	}
	return !now.Before(a.LastResetTime.AddDate(0, 0, a.ResetDays))
}

// UsageEntry is one reported model call batch.
type UsageEntry struct {
	UserID    string    `json:"user_id"`
	ModelName string    `json:"model_name"`
	Inc       int       `json:"inc"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Standing is what the session layer needs to know about an identity.
type Standing struct {
	User   *User
	Access *Access
}

// Blocked reports whether credentials must be withheld.
func (s *Standing) Blocked() bool {
	if s == nil {
		return false
	}
	return s.User.Banned() || (s.Access != nil && !s.Access.Enabled)
}

// Reason explains a block to the client.
func (s *Standing) Reason() string {
	switch {
	case s == nil:
		return ""
	case s.User.Banned():
		return ReasonBanned
	case s.Access != nil && !s.Access.Enabled:
		return s.Access.DisabledReason
	}
	return ""
}

// UsageResult is returned by RecordUsage.
type UsageResult struct {
	Access        Access `json:"access"`
	JustExhausted bool   `json:"just_disabled"`
}
