package storage

import (
	"time"

	"gorm.io/datatypes"
)

// ProviderRecord 模型供应商
type ProviderRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:varchar(64);uniqueIndex;not null"`
	DisplayName string `gorm:"type:varchar(128)"`
	BaseURL     string `gorm:"type:varchar(512)"`
	IsActive    bool   `gorm:"not null;index"`
	Priority    int    `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProviderRecord) TableName() string { return "model_providers" }

// PoolRecord 单个密钥，current_clients 只能通过 ClaimSlot/FreeSlot 修改
type PoolRecord struct {
	ID             uint   `gorm:"primaryKey"`
	ProviderID     uint   `gorm:"not null;index"`
	Name           string `gorm:"type:varchar(128);not null"`
	APIKey         string `gorm:"type:text;not null"`
	IsActive       bool   `gorm:"not null;index"`
	MaxClients     int    `gorm:"not null"`
	CurrentClients int    `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (PoolRecord) TableName() string { return "key_pools" }

// AllocationRecord 分配记录，只关闭不删除
type AllocationRecord struct {
	ID          uint       `gorm:"primaryKey"`
	PoolID      uint       `gorm:"not null;index"`
	ProviderID  uint       `gorm:"not null;index"`
	ClientID    string     `gorm:"type:varchar(128);not null;index"`
	UserID      string     `gorm:"type:varchar(128);index"`
	AllocatedAt time.Time  `gorm:"not null"`
	ReleasedAt  *time.Time
	IsActive    bool `gorm:"not null;index"`
}

func (AllocationRecord) TableName() string { return "key_allocations" }

// UserRecord 终端用户
type UserRecord struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Status     string `gorm:"type:varchar(16);not null;index"`
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UserRecord) TableName() string { return "users" }

// ModelAccessRecord 用户模型调用额度
type ModelAccessRecord struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          string `gorm:"type:varchar(128);uniqueIndex;not null"`
	Enabled         bool   `gorm:"not null"`
	UsedCount       int64  `gorm:"not null"`
	UsedTotal       int64  `gorm:"not null"`
	UsageLimit      int64  `gorm:"not null"`
	ResetPeriodDays int    `gorm:"not null"`
	LastResetTime   *time.Time
	DisabledReason  string `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ModelAccessRecord) TableName() string { return "model_access" }

// UsageLogRecord 模型调用上报流水
type UsageLogRecord struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    string         `gorm:"type:varchar(128);not null;index"`
	ModelName string         `gorm:"type:varchar(128)"`
	Inc       int            `gorm:"not null"`
	ClientID  string         `gorm:"type:varchar(128)"`
	Detail    datatypes.JSON
	CreatedAt time.Time `gorm:"index"`
}

func (UsageLogRecord) TableName() string { return "model_usage_logs" }

// AdminSessionRecord 管理员登录会话
type AdminSessionRecord struct {
	ID        uint           `gorm:"primaryKey"`
	SessionID string         `gorm:"type:varchar(64);uniqueIndex;not null"`
	Username  string         `gorm:"type:varchar(128);not null"`
	IP        string         `gorm:"type:varchar(64)"`
	CreatedAt time.Time      `gorm:"not null"`
	ExpiresAt *time.Time     `gorm:"index"`
	Metadata  datatypes.JSON
}

func (AdminSessionRecord) TableName() string { return "admin_sessions" }

// DomainEvent 领域事件存储模型
type DomainEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"index;not null"` // 事件类型
	SessionID string         `gorm:"index"`          // 会话ID
	UserID    string         `gorm:"index"`          // 用户ID
	Data      datatypes.JSON `gorm:"not null"`       // 事件数据
	CreatedAt time.Time      `gorm:"index"`          // 创建时间
}
